package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// GoTrueClient authenticates against a GoTrue-style REST API (the auth side
// of the managed backend).
type GoTrueClient struct {
	http *resty.Client
}

func NewGoTrueClient(baseURL, anonKey string) *GoTrueClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")
	if anonKey != "" {
		c.SetHeader("apikey", anonKey)
	}
	return &GoTrueClient{http: c}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	User        struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

type signUpResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	User  struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

type authError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
}

func (c *GoTrueClient) SignIn(ctx context.Context, email, password string) (*AuthUser, error) {
	var out tokenResponse
	var apiErr authError
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("grant_type", "password").
		SetBody(credentials{Email: email, Password: password}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/token")
	if err != nil {
		return nil, fmt.Errorf("auth sign in: %w", err)
	}
	if resp.IsError() {
		// invalid credentials means the account does not exist for our
		// derived-credential scheme; everything else is fatal
		if resp.StatusCode() == http.StatusBadRequest || resp.StatusCode() == http.StatusUnauthorized {
			return nil, ErrUnknownIdentity
		}
		return nil, fmt.Errorf("auth sign in: service returned %s: %s", resp.Status(), apiErr.ErrorDescription)
	}
	if out.User.ID == "" {
		return nil, fmt.Errorf("auth sign in: response missing user id")
	}
	return &AuthUser{ID: out.User.ID, Email: out.User.Email}, nil
}

func (c *GoTrueClient) SignUp(ctx context.Context, email, password string) (*AuthUser, error) {
	var out signUpResponse
	var apiErr authError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(credentials{Email: email, Password: password}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/signup")
	if err != nil {
		return nil, fmt.Errorf("auth sign up: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("auth sign up: service returned %s: %s", resp.Status(), apiErr.Msg)
	}
	id := out.ID
	mail := out.Email
	if id == "" {
		id = out.User.ID
		mail = out.User.Email
	}
	if id == "" {
		return nil, fmt.Errorf("auth sign up: response missing user id")
	}
	return &AuthUser{ID: id, Email: mail}, nil
}
