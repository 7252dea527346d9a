package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

// fakeAuth is an in-memory password authenticator. Account ids are assigned
// at sign-up and stable afterwards.
type fakeAuth struct {
	accounts map[string]string // email -> password
	ids      map[string]string // email -> user id
	next     int

	signInCalls int
	signUpCalls int
	signInErr   error
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{accounts: map[string]string{}, ids: map[string]string{}}
}

func (f *fakeAuth) SignIn(ctx context.Context, email, password string) (*AuthUser, error) {
	f.signInCalls++
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	stored, ok := f.accounts[email]
	if !ok || stored != password {
		return nil, ErrUnknownIdentity
	}
	return &AuthUser{ID: f.ids[email], Email: email}, nil
}

func (f *fakeAuth) SignUp(ctx context.Context, email, password string) (*AuthUser, error) {
	f.signUpCalls++
	if _, ok := f.accounts[email]; ok {
		return nil, errors.New("already registered")
	}
	f.next++
	id := fmt.Sprintf("user-%d", f.next)
	f.accounts[email] = password
	f.ids[email] = id
	return &AuthUser{ID: id, Email: email}, nil
}

type fakeProfiles struct {
	rows map[string]string // user id -> wallet address
	err  error
}

func (f *fakeProfiles) Upsert(ctx context.Context, userID, walletAddress string) error {
	if f.err != nil {
		return f.err
	}
	if f.rows == nil {
		f.rows = map[string]string{}
	}
	f.rows[userID] = walletAddress
	return nil
}

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestMaterialize_NewAddressRegistersThenSignsIn(t *testing.T) {
	auth := newFakeAuth()
	profiles := &fakeProfiles{}
	m := NewMaterializer(auth, profiles, "secret", testLogger())

	sess, err := m.Materialize(context.Background(), "rXYZ")
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if sess.UserID == "" || sess.WalletAddress != "rXYZ" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if auth.signUpCalls != 1 {
		t.Fatalf("expected one sign up, got %d", auth.signUpCalls)
	}
	if auth.signInCalls != 2 {
		t.Fatalf("expected sign in, sign up fallback, retry; got %d sign ins", auth.signInCalls)
	}
	if got := profiles.rows[sess.UserID]; got != "rXYZ" {
		t.Fatalf("profile not upserted: %v", profiles.rows)
	}
}

func TestMaterialize_Idempotent(t *testing.T) {
	auth := newFakeAuth()
	profiles := &fakeProfiles{}
	m := NewMaterializer(auth, profiles, "secret", testLogger())

	first, err := m.Materialize(context.Background(), "rXYZ")
	if err != nil {
		t.Fatalf("first Materialize: %v", err)
	}
	second, err := m.Materialize(context.Background(), "rXYZ")
	if err != nil {
		t.Fatalf("second Materialize: %v", err)
	}
	if first.UserID != second.UserID {
		t.Fatalf("same address must map to same user: %q vs %q", first.UserID, second.UserID)
	}
	if auth.signUpCalls != 1 {
		t.Fatalf("second call must not register again, got %d sign ups", auth.signUpCalls)
	}
	if len(profiles.rows) != 1 {
		t.Fatalf("expected exactly one profile row, got %d", len(profiles.rows))
	}
	if profiles.rows[first.UserID] != "rXYZ" {
		t.Fatalf("profile row wrong: %v", profiles.rows)
	}
}

func TestMaterialize_DistinctAddressesDistinctUsers(t *testing.T) {
	auth := newFakeAuth()
	profiles := &fakeProfiles{}
	m := NewMaterializer(auth, profiles, "secret", testLogger())

	a, _ := m.Materialize(context.Background(), "rAAA")
	b, _ := m.Materialize(context.Background(), "rBBB")
	if a == nil || b == nil || a.UserID == b.UserID {
		t.Fatalf("distinct addresses must not share a user: %+v %+v", a, b)
	}
}

func TestMaterialize_FatalAuthFailure(t *testing.T) {
	auth := newFakeAuth()
	auth.signInErr = errors.New("service unavailable")
	m := NewMaterializer(auth, &fakeProfiles{}, "secret", testLogger())

	if _, err := m.Materialize(context.Background(), "rXYZ"); err == nil {
		t.Fatalf("expected fatal error")
	}
	if auth.signUpCalls != 0 {
		t.Fatalf("non-identity failures must not trigger registration")
	}
}

func TestMaterialize_ProfileFailureSurfaces(t *testing.T) {
	auth := newFakeAuth()
	profiles := &fakeProfiles{err: errors.New("table missing")}
	m := NewMaterializer(auth, profiles, "secret", testLogger())

	if _, err := m.Materialize(context.Background(), "rXYZ"); err == nil {
		t.Fatalf("expected profile upsert failure to surface")
	}
}

func TestMaterialize_EmptyAddress(t *testing.T) {
	m := NewMaterializer(newFakeAuth(), &fakeProfiles{}, "secret", testLogger())
	if _, err := m.Materialize(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty address")
	}
}

func TestDeriveCredentials_Deterministic(t *testing.T) {
	e1, p1 := DeriveCredentials("secret", "rXYZ")
	e2, p2 := DeriveCredentials("secret", "rXYZ")
	if e1 != e2 || p1 != p2 {
		t.Fatalf("derivation must be a pure function of the address")
	}
	if e1 != "rxyz@xrpl.local" {
		t.Fatalf("unexpected email %q", e1)
	}

	_, other := DeriveCredentials("secret", "rABC")
	if other == p1 {
		t.Fatalf("different addresses must derive different passwords")
	}
	_, rekeyed := DeriveCredentials("other-secret", "rXYZ")
	if rekeyed == p1 {
		t.Fatalf("password must depend on the service secret")
	}
}
