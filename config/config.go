// Package config loads runtime configuration from the environment and sets
// up the process-wide logger.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Store backend selectors for TILL_STORE.
const (
	StoreMemory    = "memory"
	StoreSQLite    = "sqlite"
	StoreFirestore = "firestore"
)

// Config holds everything the server needs to start.
type Config struct {
	Port             int
	Store            string // memory | sqlite | firestore
	SQLitePath       string
	FirestoreProject string
	LogLevel         string
}

// Load reads configuration from a .env file (if present) and the
// environment. Flags parsed in main take precedence over these values.
func Load() (Config, error) {
	// Missing .env is fine; env vars and flags still apply.
	_ = godotenv.Load()

	cfg := Config{
		Port:             8080,
		Store:            StoreSQLite,
		SQLitePath:       "till.db",
		FirestoreProject: os.Getenv("TILL_FIRESTORE_PROJECT"),
		LogLevel:         "info",
	}

	if v := os.Getenv("TILL_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TILL_PORT %q: %w", v, err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("TILL_STORE"); v != "" {
		cfg.Store = v
	}
	if v := os.Getenv("TILL_SQLITE_PATH"); v != "" {
		cfg.SQLitePath = v
	}
	if v := os.Getenv("TILL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Store {
	case StoreMemory, StoreSQLite:
	case StoreFirestore:
		if c.FirestoreProject == "" {
			return fmt.Errorf("TILL_FIRESTORE_PROJECT is required when TILL_STORE=firestore")
		}
	default:
		return fmt.Errorf("unknown TILL_STORE %q", c.Store)
	}
	return nil
}
