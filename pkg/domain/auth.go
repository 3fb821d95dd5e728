package domain

import "time"

// Session links an opaque cookie id to an identity-provider login.
// Only the user id reaches the paste core; the tokens stay inside the
// auth layer for refresh.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	IDToken      string    `json:"id_token"`
	RefreshToken string    `json:"refresh_token"`
	SignedInAt   time.Time `json:"signed_in_at"`
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}
