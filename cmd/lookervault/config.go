package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/z3z1ma/lookervault/internal/ambient"
	"github.com/z3z1ma/lookervault/internal/looker"
	"github.com/z3z1ma/lookervault/internal/ratelimit"
	"github.com/z3z1ma/lookervault/internal/store"
)

// storeFlags is embedded by every subcommand that touches the content
// repository.
type storeFlags struct {
	DBPath string `long:"db" env:"LOOKERVAULT_DB" default:"lookervault.db" description:"Path to the local content repository"`
}

// lookerFlags is embedded by every subcommand that calls out to Looker,
// per spec.md §6 "authentication via OAuth-style client credentials
// supplied through environment variables".
type lookerFlags struct {
	BaseURL      string        `long:"looker-base-url" env:"LOOKER_BASE_URL" description:"Looker instance base URL"`
	ClientID     string        `long:"looker-client-id" env:"LOOKER_CLIENT_ID" description:"Looker API3 client ID"`
	ClientSecret string        `long:"looker-client-secret" env:"LOOKER_CLIENT_SECRET" description:"Looker API3 client secret"`
	TokenURL     string        `long:"looker-token-url" env:"LOOKER_TOKEN_URL" description:"OAuth2 token endpoint"`
	Timeout      time.Duration `long:"looker-timeout" env:"LOOKER_TIMEOUT" default:"30s" description:"Per-request timeout"`
}

// rateLimitFlags is embedded by extract/restore subcommands, per spec.md
// §6 "--rate-limit-per-minute, --rate-limit-per-second".
type rateLimitFlags struct {
	RequestsPerMinute int     `long:"rate-limit-per-minute" default:"1000" description:"Ceiling on requests admitted per rolling minute"`
	RequestsPerSecond int     `long:"rate-limit-per-second" default:"10" description:"Ceiling on requests admitted per second"`
	SlowdownFactor    float64 `long:"rate-limit-slowdown-factor" default:"0.5" description:"Multiplicative slowdown applied on a 429"`
}

// sessionFlags is embedded by every long-running subcommand.
type sessionFlags struct {
	Workers            int      `long:"workers" default:"8" description:"Worker pool size"`
	CheckpointInterval int      `long:"checkpoint-interval" default:"100" description:"Items between checkpoint flushes"`
	MaxRetries         int      `long:"max-retries" default:"5" description:"Retries per item on a transient failure"`
	DryRun             bool     `long:"dry-run" description:"Report what would happen without writing"`
	JSON               bool     `long:"json" description:"Emit structured JSON output"`
	Force              bool     `long:"force" description:"Authorize a destructive operation"`
	Resume             string   `long:"resume" description:"Session ID to resume"`
	FolderIDs          []string `long:"folder-ids" description:"Restrict to these folder IDs (dashboards/looks only)"`
	Recursive          bool     `long:"recursive" description:"Include folders nested under --folder-ids"`
}

func openStore(ctx context.Context, f storeFlags, logger *log.Entry) (*store.SQLiteStore, error) {
	s, err := store.Open(ctx, f.DBPath, logger)
	if err != nil {
		return nil, newCLIError(exitConnection, "opening content repository", err)
	}
	return s, nil
}

func newLookerClient(ctx context.Context, f lookerFlags, logger *log.Entry) (looker.Client, error) {
	client, err := looker.NewHTTPClient(ctx, looker.HTTPConfig{
		BaseURL:      f.BaseURL,
		ClientID:     f.ClientID,
		ClientSecret: f.ClientSecret,
		TokenURL:     f.TokenURL,
		Timeout:      f.Timeout,
	}, logger)
	if err != nil {
		return nil, newCLIError(exitConnection, "connecting to Looker", err)
	}
	return client, nil
}

func newLimiter(ctx context.Context, f rateLimitFlags) *ratelimit.Limiter {
	return ratelimit.New(ctx, ratelimit.Config{
		RequestsPerMinute: f.RequestsPerMinute,
		RequestsPerSecond: f.RequestsPerSecond,
		SlowdownFactor:    f.SlowdownFactor,
		RecoveryInterval:  5 * time.Second,
	})
}

func newSessionID(resume string) string {
	if resume != "" {
		return resume
	}
	return uuid.NewString()
}

func logger() *log.Entry {
	return ambient.InitLogging(logCfg)
}
