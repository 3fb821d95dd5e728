package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"penne/pkg/domain"

	"github.com/pkg/errors"
)

// Client talks to the external identity provider: email/password
// accounts, opaque user ids, short-lived bearer tokens with refresh.
// The paste core only ever sees the user id.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Account is what the provider returns on sign-in and refresh.
type Account struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

type providerError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) SignUp(ctx context.Context, email, password string) (*Account, error) {
	return c.credentialCall(ctx, "accounts:signUp", email, password)
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*Account, error) {
	return c.credentialCall(ctx, "accounts:signInWithPassword", email, password)
}

func (c *Client) credentialCall(ctx context.Context, endpoint, email, password string) (*Account, error) {
	body := map[string]interface{}{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}
	var acct Account
	if err := c.post(ctx, endpoint, body, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// Refresh exchanges a refresh token for a fresh id token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Account, error) {
	body := map[string]interface{}{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	}
	var resp struct {
		UserID       string `json:"user_id"`
		IDToken      string `json:"id_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    string `json:"expires_in"`
	}
	if err := c.post(ctx, "token", body, &resp); err != nil {
		return nil, err
	}
	return &Account{
		LocalID:      resp.UserID,
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
	}, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}
	url := fmt.Sprintf("%s/v1/%s?key=%s", c.baseURL, endpoint, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "identity provider unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var pErr providerError
		if json.NewDecoder(resp.Body).Decode(&pErr) == nil && pErr.Error.Message != "" {
			return errors.Wrapf(domain.ErrUnauthorized, "identity provider: %s", pErr.Error.Message)
		}
		return errors.Wrapf(domain.ErrUnauthorized, "identity provider: status %d", resp.StatusCode)
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
}
