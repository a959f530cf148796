// Package config loads service configuration from the environment and
// fails fast on anything that would only break later at request time.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// Environment variable names.
const (
	EnvAddr            = "ENVDS_ADDR"
	EnvPGDSN           = "ENVDS_PG_DSN"
	EnvFieldKey        = "ENVDS_FIELD_KEY_BASE64"
	EnvSessionSecret   = "ENVDS_SESSION_SECRET"
	EnvBootstrapAdmins = "ENVDS_BOOTSTRAP_ADMIN_EMAILS"
	EnvSweepSchedule   = "ENVDS_SWEEP_SCHEDULE"
)

const defaultAddr = ":8080"

// Config is the validated runtime configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string
	// PGDSN selects the postgres document store; empty means in-memory.
	PGDSN string
	// FieldKey is the 32-byte AES key for field-level encryption.
	FieldKey []byte
	// SessionSecret signs session tokens.
	SessionSecret []byte
	// BootstrapAdminEmails are promoted to ADMIN at signup.
	BootstrapAdminEmails []string
	// SweepSchedule is a cron expression; empty disables scheduled sweeps.
	SweepSchedule string
}

// Load reads and validates the environment.
func Load() (Config, error) {
	cfg := Config{
		Addr:          os.Getenv(EnvAddr),
		PGDSN:         os.Getenv(EnvPGDSN),
		SweepSchedule: os.Getenv(EnvSweepSchedule),
	}
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}

	rawKey := os.Getenv(EnvFieldKey)
	if rawKey == "" {
		return Config{}, fmt.Errorf("config: %s is required", EnvFieldKey)
	}
	key, err := base64.StdEncoding.DecodeString(rawKey)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s is not valid base64: %w", EnvFieldKey, err)
	}
	if len(key) != 32 {
		return Config{}, fmt.Errorf("config: %s must decode to 32 bytes, got %d", EnvFieldKey, len(key))
	}
	cfg.FieldKey = key

	secret := os.Getenv(EnvSessionSecret)
	if len(secret) < 32 {
		return Config{}, fmt.Errorf("config: %s must be at least 32 bytes", EnvSessionSecret)
	}
	cfg.SessionSecret = []byte(secret)

	if raw := os.Getenv(EnvBootstrapAdmins); raw != "" {
		for _, e := range strings.Split(raw, ",") {
			if e = strings.TrimSpace(e); e != "" {
				cfg.BootstrapAdminEmails = append(cfg.BootstrapAdminEmails, e)
			}
		}
	}
	return cfg, nil
}
