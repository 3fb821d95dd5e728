package expiry

import (
	"fmt"
	"strings"
	"time"
)

// Fixed menu of expiry choices, in seconds. 0 means never expires.
var menuSeconds = []int64{0, 300, 600, 1800, 86400, 604800, 1209600, 18144000}

var units = []struct {
	name string
	div  int64
}{
	{"month", 60 * 60 * 24 * 30},
	{"week", 60 * 60 * 24 * 7},
	{"day", 60 * 60 * 24},
	{"hour", 60 * 60},
	{"min", 60},
	{"sec", 1},
}

type Option struct {
	Label   string `json:"label"`
	Seconds int64  `json:"value"`
}

// Options returns the expiry menu in order. Anonymous submitters must
// not create permanent pastes, so excludeNever drops the 0 entry.
func Options(excludeNever bool) []Option {
	opts := make([]Option, 0, len(menuSeconds))
	for _, s := range menuSeconds {
		if excludeNever && s == 0 {
			continue
		}
		opts = append(opts, Option{Label: Humanize(s), Seconds: s})
	}
	return opts
}

// ValidChoice reports whether seconds is one of the menu entries.
func ValidChoice(seconds int64) bool {
	for _, s := range menuSeconds {
		if s == seconds {
			return true
		}
	}
	return false
}

// Humanize renders a duration as "1 day, 1 hour, 1 min, 1 sec",
// decomposing greedily from months down and skipping zero amounts.
// 0 is the literal "Never".
func Humanize(seconds int64) string {
	if seconds == 0 {
		return "Never"
	}
	var parts []string
	for _, u := range units {
		amount := seconds / u.div
		seconds %= u.div
		if amount == 0 {
			continue
		}
		plural := ""
		if amount != 1 {
			plural = "s"
		}
		parts = append(parts, fmt.Sprintf("%d %s%s", amount, u.name, plural))
	}
	return strings.Join(parts, ", ")
}

// ExpiresAt converts a duration choice into an absolute instant.
// 0 means never, returned as nil.
func ExpiresAt(createdAt time.Time, seconds int64) *time.Time {
	if seconds == 0 {
		return nil
	}
	t := createdAt.Add(time.Duration(seconds) * time.Second)
	return &t
}

// IsAlive reports whether a paste with the given expiry is still
// readable at now. A nil expiry never expires; otherwise the paste is
// alive strictly before the instant.
func IsAlive(expiresAt *time.Time, now time.Time) bool {
	if expiresAt == nil {
		return true
	}
	return expiresAt.After(now)
}
