package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Veraticus/paper-trail/internal/common"
	"github.com/Veraticus/paper-trail/internal/config"
	"github.com/Veraticus/paper-trail/internal/service"
	"github.com/Veraticus/paper-trail/internal/sheets"
	"github.com/Veraticus/paper-trail/internal/storage"
	"github.com/spf13/viper"
)

// databasePath resolves the ledger database location from config.
func databasePath() string {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "$HOME/.local/share/papertrail/papertrail.db"
	}
	return config.ExpandPath(dbPath)
}

// initStorage opens the ledger database and applies any pending migrations.
func initStorage(ctx context.Context) (service.Storage, error) {
	store, err := storage.NewSQLiteStorage(databasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := store.Migrate(ctx); err != nil {
		if closeErr := store.Close(); closeErr != nil {
			slog.Warn("Failed to close storage", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// sheetsOAuthConfig assembles the OAuth2 client configuration shared by the
// Gmail source and the interactive auth flow.
func sheetsOAuthConfig() (sheets.OAuth2Config, error) {
	clientID := viper.GetString("sheets.client_id")
	clientSecret := viper.GetString("sheets.client_secret")

	if clientID == "" {
		clientID = os.Getenv("GOOGLE_SHEETS_CLIENT_ID")
	}
	if clientSecret == "" {
		clientSecret = os.Getenv("GOOGLE_SHEETS_CLIENT_SECRET")
	}
	if clientID == "" || clientSecret == "" {
		return sheets.OAuth2Config{}, fmt.Errorf("%w: set sheets.client_id and sheets.client_secret in config, or GOOGLE_SHEETS_CLIENT_ID and GOOGLE_SHEETS_CLIENT_SECRET", common.ErrMissingConfig)
	}

	tokenFile, err := tokenFilePath()
	if err != nil {
		return sheets.OAuth2Config{}, err
	}

	return sheets.OAuth2Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenFile:    tokenFile,
	}, nil
}

// tokenFilePath returns where the OAuth2 token is cached on disk.
func tokenFilePath() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "papertrail", "google-token.json"), nil
}
