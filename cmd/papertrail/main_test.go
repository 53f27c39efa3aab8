package main

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestRootCmdSubcommands(t *testing.T) {
	expected := []string{"auth", "scan", "receipts", "conflicts", "export", "migrate", "backup", "version"}

	names := make(map[string]bool)
	for _, subcmd := range rootCmd.Commands() {
		names[subcmd.Name()] = true
	}

	for _, name := range expected {
		assert.True(t, names[name], "%s subcommand should exist", name)
	}
}

func TestSetupLoggingRejectsInvalidLevel(t *testing.T) {
	viper.Set("logging.level", "verbose")
	viper.Set("logging.format", "console")
	defer viper.Set("logging.level", "info")

	assert.Error(t, setupLogging())
}

func TestSetupLoggingRejectsInvalidFormat(t *testing.T) {
	viper.Set("logging.level", "info")
	viper.Set("logging.format", "xml")
	defer viper.Set("logging.format", "console")

	assert.Error(t, setupLogging())
}

func TestSetupLoggingAcceptsDefaults(t *testing.T) {
	viper.Set("logging.level", "info")
	viper.Set("logging.format", "console")

	assert.NoError(t, setupLogging())
}
