package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Materializer resolves a signed wallet address to a Session. Idempotent:
// N invocations with the same address yield the same user and one profile
// record.
type Materializer struct {
	auth     Authenticator
	profiles ProfileStore
	secret   string
	log      logrus.FieldLogger
}

func NewMaterializer(auth Authenticator, profiles ProfileStore, deriveSecret string, log logrus.FieldLogger) *Materializer {
	return &Materializer{auth: auth, profiles: profiles, secret: deriveSecret, log: log}
}

// Materialize authenticates with the address-derived credential, registering
// the account first if it does not exist yet, then upserts the profile
// association.
func (m *Materializer) Materialize(ctx context.Context, walletAddress string) (*Session, error) {
	if walletAddress == "" {
		return nil, fmt.Errorf("session: empty wallet address")
	}
	email, password := DeriveCredentials(m.secret, walletAddress)
	log := m.log.WithField("wallet_address", walletAddress)

	user, err := m.auth.SignIn(ctx, email, password)
	if errors.Is(err, ErrUnknownIdentity) {
		log.Info("no account for address, registering")
		if _, err := m.auth.SignUp(ctx, email, password); err != nil {
			return nil, fmt.Errorf("session: sign up: %w", err)
		}
		user, err = m.auth.SignIn(ctx, email, password)
	}
	if err != nil {
		return nil, fmt.Errorf("session: sign in: %w", err)
	}

	if err := m.profiles.Upsert(ctx, user.ID, walletAddress); err != nil {
		return nil, fmt.Errorf("session: profile upsert: %w", err)
	}

	log.WithField("user_id", user.ID).Info("session materialized")
	return &Session{UserID: user.ID, WalletAddress: walletAddress}, nil
}
