package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BaSui01/agentrelay/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMigrateArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantArgs []string
		wantCfg  string
		wantType string
		wantURL  string
	}{
		{name: "plain", args: []string{"up"}, wantArgs: []string{"up"}},
		{
			name:     "flags before positional",
			args:     []string{"goto", "--config", "relay.yaml", "2"},
			wantArgs: []string{"goto", "2"},
			wantCfg:  "relay.yaml",
		},
		{
			name:     "flags after positional",
			args:     []string{"force", "1", "--db-type", "sqlite", "--db-url", "file:x.db"},
			wantArgs: []string{"force", "1"},
			wantType: "sqlite",
			wantURL:  "file:x.db",
		},
		{name: "down all", args: []string{"down", "--all"}, wantArgs: []string{"down", "--all"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := parseMigrateArgs(tt.args, io.Discard)
			require.NoError(t, err)
			assert.Equal(t, tt.wantArgs, opts.args)
			assert.Equal(t, tt.wantCfg, opts.configPath)
			assert.Equal(t, tt.wantType, opts.dbType)
			assert.Equal(t, tt.wantURL, opts.dbURL)
		})
	}
}

func TestParseMigrateArgs_UnknownFlag(t *testing.T) {
	_, err := parseMigrateArgs([]string{"up", "--nope"}, io.Discard)
	assert.Error(t, err)
}

func TestCreateMigrator_FromURL(t *testing.T) {
	dbPath := t.TempDir() + "/runs.db"
	m, err := createMigrator(migrateOptions{dbType: "sqlite", dbURL: "file:" + dbPath + "?mode=rwc"}, nil)
	require.NoError(t, err)
	defer m.Close()

	_, dirty, err := m.Version(t.Context())
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestCheckHealth(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
	}))
	defer ok.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	client := &http.Client{Timeout: time.Second}
	assert.NoError(t, checkHealth(client, ok.URL))
	assert.ErrorContains(t, checkHealth(client, bad.URL), "status 503")
}

func TestInitLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger := initLogger(config.LogConfig{Level: "debug", Format: format, OutputPaths: []string{"stdout"}})
		require.NotNil(t, logger)
		assert.True(t, logger.Core().Enabled(-1))
	}

	logger := initLogger(config.LogConfig{Level: "bogus"})
	assert.False(t, logger.Core().Enabled(-1))
}
