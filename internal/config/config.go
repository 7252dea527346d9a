package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds everything the api and worker binaries read from the
// environment. Polling timing has defaults matching the wallet flow
// (60 attempts, 5s apart, 1s before the first check).
type Config struct {
	WalletAPIURL    string
	WalletAPIKey    string
	WalletAPISecret string

	AuthBaseURL  string
	AuthAnonKey  string
	DeriveSecret string

	ProfilesTable      string
	LoansTable         string
	ContributionsTable string
	ReconcileQueueURL  string

	XRPLRPCURL string

	ResumeFile string

	PollMaxAttempts  int
	PollInterval     time.Duration
	PollInitialDelay time.Duration
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

func Load() (Config, error) {
	return LoadFromEnv(osEnv{})
}

func LoadFromEnv(env Env) (Config, error) {
	cfg := Config{
		WalletAPIURL:     "https://xumm.app/api/v1/platform",
		XRPLRPCURL:       "https://s.altnet.rippletest.net:51234",
		ResumeFile:       "pending-payload.json",
		PollMaxAttempts:  60,
		PollInterval:     5 * time.Second,
		PollInitialDelay: 1 * time.Second,
	}

	cfg.WalletAPIKey = env.Getenv("XUMM_API_KEY")
	cfg.WalletAPISecret = env.Getenv("XUMM_API_SECRET")
	if cfg.WalletAPIKey == "" || cfg.WalletAPISecret == "" {
		return Config{}, fmt.Errorf("XUMM_API_KEY and XUMM_API_SECRET are required")
	}

	cfg.AuthBaseURL = env.Getenv("AUTH_BASE_URL")
	if cfg.AuthBaseURL == "" {
		return Config{}, fmt.Errorf("AUTH_BASE_URL is required")
	}
	cfg.AuthAnonKey = env.Getenv("AUTH_ANON_KEY")

	cfg.DeriveSecret = env.Getenv("CREDENTIAL_DERIVE_SECRET")
	if cfg.DeriveSecret == "" {
		return Config{}, fmt.Errorf("CREDENTIAL_DERIVE_SECRET is required")
	}

	cfg.ProfilesTable = env.Getenv("PROFILES_TABLE")
	cfg.LoansTable = env.Getenv("LOANS_TABLE")
	cfg.ContributionsTable = env.Getenv("CONTRIBUTIONS_TABLE")
	cfg.ReconcileQueueURL = env.Getenv("RECONCILE_QUEUE_URL")

	if raw := env.Getenv("XUMM_API_URL"); raw != "" {
		cfg.WalletAPIURL = raw
	}
	if raw := env.Getenv("XRPL_RPC_URL"); raw != "" {
		cfg.XRPLRPCURL = raw
	}
	if raw := env.Getenv("RESUME_FILE"); raw != "" {
		cfg.ResumeFile = raw
	}

	if raw := env.Getenv("POLL_MAX_ATTEMPTS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid POLL_MAX_ATTEMPTS")
		}
		cfg.PollMaxAttempts = n
	}
	if raw := env.Getenv("POLL_INTERVAL_SECONDS"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			return Config{}, fmt.Errorf("invalid POLL_INTERVAL_SECONDS")
		}
		cfg.PollInterval = time.Duration(secs) * time.Second
	}
	if raw := env.Getenv("POLL_INITIAL_DELAY_MS"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms < 0 {
			return Config{}, fmt.Errorf("invalid POLL_INITIAL_DELAY_MS")
		}
		cfg.PollInitialDelay = time.Duration(ms) * time.Millisecond
	}

	return cfg, nil
}
