// Package session turns a signed wallet identity into an application
// session. The wallet address is the durable identity anchor: the same
// address always derives the same credential, resolves to the same user and
// keeps a single profile record.
package session

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Session is the materialized identity handed back to callers. It is passed
// explicitly through calls; there is no ambient current-user state.
type Session struct {
	UserID        string
	WalletAddress string
}

// AuthUser is the authentication provider's view of an account.
type AuthUser struct {
	ID    string
	Email string
}

// ErrUnknownIdentity is returned by SignIn when the credential does not
// match any account. It is the only sign-in failure that triggers the
// registration fallback; everything else is fatal.
var ErrUnknownIdentity = errors.New("session: unknown identity")

// Authenticator is the password-credential side of the managed auth service.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (*AuthUser, error)
	SignUp(ctx context.Context, email, password string) (*AuthUser, error)
}

// ProfileStore persists the user-to-wallet-address association. Upsert
// semantics: re-authentication of an existing user must not fail or
// duplicate.
type ProfileStore interface {
	Upsert(ctx context.Context, userID, walletAddress string) error
}

// DeriveCredentials maps a wallet address to a synthetic email and a
// deterministic password. The password is an HMAC of the address under the
// service secret, so repeated calls reconstruct the same credential instead
// of minting a new one.
func DeriveCredentials(secret, walletAddress string) (email, password string) {
	email = strings.ToLower(walletAddress) + "@xrpl.local"
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(walletAddress))
	password = hex.EncodeToString(mac.Sum(nil))
	return email, password
}
