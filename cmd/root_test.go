package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/carrier-cli/internal/model"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"scrape", "enrich", "export", "serve", "migrate", "users", "ips", "status"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "carrier-cli", rootCmd.Use)
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("store"))
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestScrapeCommand_Flags(t *testing.T) {
	for _, name := range []string{"start", "count", "carriers", "brokers", "authorized-only", "mock", "proxy", "user", "roster", "enrich", "out", "enriched-out"} {
		assert.NotNil(t, scrapeCmd.Flags().Lookup(name), "scrape should have --%s flag", name)
	}
	assert.Equal(t, "10", scrapeCmd.Flags().Lookup("count").DefValue)
	assert.Equal(t, "true", scrapeCmd.Flags().Lookup("authorized-only").DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestUsersCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range usersCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "add", "delete", "reset-quota"} {
		assert.True(t, names[name], "users should have subcommand %q", name)
	}
}

func TestFormatUsers(t *testing.T) {
	var buf bytes.Buffer
	formatUsers(&buf, []model.User{{
		Email:                 "admin@example.com",
		Name:                  "Admin",
		Role:                  model.RoleAdmin,
		Plan:                  model.PlanEnterprise,
		DailyLimit:            100000,
		RecordsExtractedToday: 12,
		LastActive:            time.Date(2026, 3, 4, 5, 6, 0, 0, time.UTC),
	}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "EMAIL")
	assert.Contains(t, lines[2], "admin@example.com")
	assert.Contains(t, lines[2], "2026-03-04 05:06")
	assert.Contains(t, lines[2], "100000")
}

func TestFormatBlockedIPs(t *testing.T) {
	var buf bytes.Buffer
	formatBlockedIPs(&buf, []model.BlockedIP{{IP: "203.0.113.9", Reason: model.DefaultBlockReason}})
	assert.Contains(t, buf.String(), "203.0.113.9")
	assert.Contains(t, buf.String(), model.DefaultBlockReason)
}

func TestScrapeCommand_MockRun(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("CARRIER_STORE_DRIVER", "postgres")
	t.Setenv("CARRIER_BATCH_SIMULATED_DELAY_MS", "1")
	t.Setenv("CARRIER_LOG_LEVEL", "error")

	outPath := filepath.Join(dir, "carriers.csv")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() { rootCmd.SetOut(nil); rootCmd.SetArgs(nil) })
	rootCmd.SetArgs([]string{
		"scrape", "--mock", "--start", "1580000", "--count", "3",
		"--carriers", "--brokers", "--enrich=false", "--out", outPath,
		"--store", "memory",
	})

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "memory", cfg.Store.Driver, "--store overrides the configured driver")
	assert.Contains(t, out.String(), "Mode: Simulation")
	assert.Contains(t, out.String(), "Batch job complete. Found 3 records.")

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "MC,DOT,Legal Name"))
}
