package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywall/procman/internal/config"
	"github.com/tinywall/procman/internal/logging"
	"github.com/tinywall/procman/internal/process/processtest"
	"github.com/tinywall/procman/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Events.SQLitePath = filepath.Join(t.TempDir(), "events.db")
	cfg.Terminate.Timeout = "20ms"
	cfg.Terminate.KillGrace = "20ms"
	cfg.Auth.Type = "none"
	return cfg
}

func testLogger(t *testing.T, buf *bytes.Buffer) *logging.Logger {
	t.Helper()
	var w io.Writer = io.Discard
	if buf != nil {
		w = buf
	}
	l, err := logging.New(config.LoggingConfig{Level: "info"}, w)
	require.NoError(t, err)
	return l
}

func startServer(t *testing.T, s *Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
		_ = s.Close()
	})
}

func TestServer_ServesAPI(t *testing.T) {
	native := processtest.New(
		processtest.Proc{PID: 4, Exe: "System", Created: 1},
		processtest.Proc{PID: 700, PPID: 4, Exe: "svc.exe", Image: `C:\svc.exe`, Created: 2},
	)
	cfg := testConfig(t)
	cfg.Watch.Enabled = true
	cfg.Watch.Interval = "50ms"
	s, err := New(cfg, testLogger(t, nil), WithNative(native))
	require.NoError(t, err)
	startServer(t, s)

	base := "http://" + s.Addr()
	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/api/v1/processes?resolve=true")
	require.NoError(t, err)
	var recs []types.ResolvedProcessRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&recs))
	resp.Body.Close()
	assert.Len(t, recs, 2)

	resp, err = http.Post(base+"/api/v1/processes/700/terminate", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/api/v1/events?type=terminate")
	require.NoError(t, err)
	var evs []types.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&evs))
	resp.Body.Close()
	require.Len(t, evs, 1)
	assert.Equal(t, "terminated", evs[0].Outcome)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `procman_terminations_total{outcome="terminated"} 1`)
	assert.Contains(t, string(body), "procman_processes_tracked")
}

func TestServer_RequestBodyLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.MaxRequestSize = "16B"
	s, err := New(cfg, testLogger(t, nil), WithNative(processtest.New(processtest.Proc{PID: 9, Exe: "x.exe", Created: 1})))
	require.NoError(t, err)
	startServer(t, s)

	body := bytes.NewReader([]byte(`{"timeout":"1111111111111111111111111ms"}`))
	resp, err := http.Post("http://"+s.Addr()+"/api/v1/processes/9/terminate", "application/json", body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestServer_JSONLMirror(t *testing.T) {
	cfg := testConfig(t)
	cfg.Events.JSONLPath = filepath.Join(t.TempDir(), "events.jsonl")
	s, err := New(cfg, testLogger(t, nil), WithNative(processtest.New(processtest.Proc{PID: 9, Exe: "x.exe", Created: 1})))
	require.NoError(t, err)
	startServer(t, s)

	resp, err := http.Post("http://"+s.Addr()+"/api/v1/processes/9/terminate", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	b, err := os.ReadFile(cfg.Events.JSONLPath)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"type":"terminate"`)
}

func TestNew_RequiresKeysFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Type = "api_key"
	_, err := New(cfg, testLogger(t, nil), WithNative(processtest.New()))
	assert.ErrorContains(t, err, "keys_file is empty")
}

func TestServer_APIKeyAuth(t *testing.T) {
	keysFile := filepath.Join(t.TempDir(), "keys.yaml")
	require.NoError(t, os.WriteFile(keysFile, []byte("- id: ops\n  key: s3cret\n- id: dash\n  key: look\n  role: viewer\n"), 0o600))
	cfg := testConfig(t)
	cfg.Auth.Type = "api_key"
	cfg.Auth.APIKey.KeysFile = keysFile
	s, err := New(cfg, testLogger(t, nil), WithNative(processtest.New(processtest.Proc{PID: 9, Exe: "x.exe", Created: 1})))
	require.NoError(t, err)
	startServer(t, s)
	base := "http://" + s.Addr()

	send := func(method, path, key string) int {
		req, err := http.NewRequest(method, base+path, nil)
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, send(http.MethodGet, "/health", ""))
	assert.Equal(t, http.StatusOK, send(http.MethodGet, "/metrics", ""))
	assert.Equal(t, http.StatusUnauthorized, send(http.MethodGet, "/api/v1/processes", ""))
	assert.Equal(t, http.StatusUnauthorized, send(http.MethodGet, "/api/v1/processes", "wrong"))
	assert.Equal(t, http.StatusOK, send(http.MethodGet, "/api/v1/processes", "look"))
	assert.Equal(t, http.StatusForbidden, send(http.MethodPost, "/api/v1/processes/9/terminate", "look"))
	assert.Equal(t, http.StatusOK, send(http.MethodPost, "/api/v1/processes/9/terminate", "s3cret"))
}

func TestNew_RefusesNonLoopback(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Addr = "0.0.0.0:0"
	_, err := New(cfg, testLogger(t, nil), WithNative(processtest.New()))
	assert.Error(t, err)
}

func TestIsLoopbackListenAddr(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:8080": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":8080":          false,
		"0.0.0.0:80":     false,
		"example.com:80": false,
		"":               false,
	} {
		assert.Equal(t, want, isLoopbackListenAddr(addr), addr)
	}
}

func TestServer_ReloadsConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "procman.yaml")
	write := func(level, timeout string) {
		doc := fmt.Sprintf("logging:\n  level: %s\nterminate:\n  timeout: %s\nserver:\n  addr: 127.0.0.1:0\nauth:\n  type: none\n", level, timeout)
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	}
	write("info", "5s")
	t.Setenv("PROCMAN_LOG_LEVEL", "")
	t.Setenv("PROCMAN_TERMINATE_TIMEOUT", "")
	t.Setenv("PROCMAN_HTTP_ADDR", "")
	t.Setenv("PROCMAN_PIPE", "")
	t.Setenv("PROCMAN_DATA_DIR", "")
	t.Setenv("PROCMAN_AUTH_TYPE", "")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	var logs bytes.Buffer
	logger := testLogger(t, &logs)
	s, err := New(cfg, logger, WithConfigPath(path), WithNative(processtest.New()))
	require.NoError(t, err)
	startServer(t, s)

	// Give the directory watch a moment to register.
	time.Sleep(100 * time.Millisecond)
	write("debug", "750ms")

	require.Eventually(t, func() bool {
		return s.Config().TerminateTimeout() == 750*time.Millisecond
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "debug", s.Config().Logging.Level)
	require.Eventually(t, func() bool {
		return logger.Level().String() == "DEBUG"
	}, time.Second, 10*time.Millisecond)

	reloaded := regexp.MustCompile(`procman_config_reloads_total\{result="ok"\} [1-9]`)
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + s.Addr() + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		return err == nil && reloaded.Match(body)
	}, time.Second, 20*time.Millisecond)
}

func TestPruneOnce(t *testing.T) {
	cfg := testConfig(t)
	cfg.Events.Retention = "1h"
	s, err := New(cfg, testLogger(t, nil), WithNative(processtest.New()))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.store.AppendEvent(ctx, types.Event{ID: "old", Type: types.EventProcessExited, Timestamp: now.Add(-2 * time.Hour), PID: 1}))
	require.NoError(t, s.store.AppendEvent(ctx, types.Event{ID: "new", Type: types.EventProcessExited, Timestamp: now, PID: 1}))

	s.pruneOnce(ctx, now)

	evs, err := s.store.QueryEvents(ctx, types.EventQuery{})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "new", evs[0].ID)
}
