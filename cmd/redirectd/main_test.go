package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/privacy-redirect/internal/redirect/config"
	"github.com/haukened/privacy-redirect/internal/redirect/domain"
	"github.com/haukened/privacy-redirect/internal/redirect/repos/allowlist"
	"github.com/haukened/privacy-redirect/internal/redirect/repos/allowlist/bolt"
)

// allowListServer serves a fixed allow list the way the redirect service does.
func allowListServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/allowed-list" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return port
}

func testConfig(t *testing.T, server string) *config.AppConfig {
	t.Helper()
	cfg := config.DEFAULT_APP_CONFIG
	cfg.Server = server
	cfg.Port = freePort(t)
	return &cfg
}

// TestApplication_Integration tests the full application lifecycle
func TestApplication_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	remote := allowListServer(t, `{"result":["twitter.com"],"internal_redirect":[]}`)
	cfg := testConfig(t, remote.URL)
	cfg.SnapshotDB = filepath.Join(t.TempDir(), "allowlist.db")
	cfg.LoopWindow = time.Minute

	app, err := buildApplication(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appErr := make(chan error, 1)
	go func() {
		appErr <- app.Run(ctx)
	}()

	base := fmt.Sprintf("http://%s", cfg.Addr())
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/v1/healthcheck")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond, "server failed to start")

	// The startup refresh populates the allow list asynchronously.
	require.Eventually(t, func() bool { return app.store.Stats().Version >= 1 }, 2*time.Second, 10*time.Millisecond)

	decide := func(body string) string {
		resp, err := http.Post(base+"/api/v1/navigation", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return strings.TrimSpace(string(b))
	}

	assert.JSONEq(t, `{}`, decide(`{"url":"https://twitter.com/x?ref_src=1","method":"GET","type":"main_frame","originUrl":"https://example.com/"}`))
	assert.JSONEq(t,
		fmt.Sprintf(`{"redirectUrl":"%s/?https://news.example.org/a"}`, remote.URL),
		decide(`{"url":"https://news.example.org/a","method":"GET","type":"main_frame","originUrl":"https://example.com/"}`))
	assert.JSONEq(t, `{}`, decide(`{"url":"https://news.example.org/a","method":"GET","type":"main_frame","originUrl":"https://example.com/"}`), "loop guard")

	cancel()
	select {
	case err := <-appErr:
		assert.NoError(t, err, "Application should shutdown gracefully")
	case <-time.After(5 * time.Second):
		t.Fatal("Application failed to shutdown within timeout")
	}

	// The last good list was persisted for the next start.
	p, err := bolt.New(cfg.SnapshotDB)
	require.NoError(t, err)
	defer func() { _ = p.Close() }()
	payload, meta, ok, err := p.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"twitter.com"}, payload.Hosts)
	assert.Equal(t, uint64(1), meta.Version)
}

func TestBuildApplication_RestoresSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allowlist.db")
	p, err := bolt.New(path)
	require.NoError(t, err)
	require.NoError(t, p.Save(domain.AllowListPayload{Hosts: []string{"okta.com"}}, allowlist.Meta{Version: 9}))
	require.NoError(t, p.Close())

	cfg := testConfig(t, "https://privacydir.com")
	cfg.SnapshotDB = path

	app, err := buildApplication(cfg)
	require.NoError(t, err)
	defer closePersister(app.persister)

	assert.True(t, app.store.IsAllowed("https://login.okta.com/"))
	assert.Equal(t, uint64(9), app.store.Stats().Version)
}

func TestBuildApplication_BadSnapshotPath(t *testing.T) {
	cfg := testConfig(t, "https://privacydir.com")
	cfg.SnapshotDB = filepath.Join(t.TempDir(), "missing", "allowlist.db")

	app, err := buildApplication(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open snapshot db")
	assert.Nil(t, app)
}

func TestApplication_ComponentIntegration(t *testing.T) {
	cfg := testConfig(t, "https://privacydir.com")
	app, err := buildApplication(cfg)
	require.NoError(t, err)

	assert.NotNil(t, app.config)
	assert.NotNil(t, app.store)
	assert.Nil(t, app.persister, "persistence disabled by default")
	assert.NotNil(t, app.refresher)
	assert.NotNil(t, app.guard)
	assert.NotNil(t, app.interceptor)
	assert.NotNil(t, app.transport)

	stats := app.stats()
	assert.Contains(t, stats, "allowlist")
	assert.Contains(t, stats, "loopguard")
	assert.Contains(t, stats, "interceptor")
}

func TestApplication_RunFailsWhenPortTaken(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	remote := allowListServer(t, `{"result":[],"internal_redirect":[]}`)
	cfg := testConfig(t, remote.URL)
	cfg.Port = listener.Addr().(*net.TCPAddr).Port
	app, err := buildApplication(cfg)
	require.NoError(t, err)

	err = app.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start HTTP transport")
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDecideCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			"cross origin",
			[]string{"decide", "https://twitter.com/x?ref_src=1", "--origin", "https://example.com"},
			"rewritten\thttps://privacydir.com/?https://twitter.com/x?ref_src=1\n",
		},
		{
			"same origin",
			[]string{"decide", "https://example.com/about", "--origin", "https://example.com/index.html"},
			"unchanged\thttps://example.com/about\n",
		},
		{
			"already wrapped",
			[]string{"decide", "https://privacydir.com/?https://a.com", "--origin", "https://example.com"},
			"unchanged\thttps://privacydir.com/?https://a.com\n",
		},
		{
			"mailto",
			[]string{"decide", "mailto:a@b.com"},
			"unchanged\tmailto:a@b.com\n",
		},
		{
			"no origin",
			[]string{"decide", "https://example.com/about"},
			"rewritten\thttps://privacydir.com/?https://example.com/about\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCmd(t, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestDecideCommand_Fetch(t *testing.T) {
	remote := allowListServer(t, `{"result":["twitter.com"],"internal_redirect":["^https://example\\.com/out\\?"]}`)
	t.Setenv("REDIRECT_SERVER", remote.URL)

	out, err := runCmd(t, "decide", "https://twitter.com/x", "--fetch")
	require.NoError(t, err)
	assert.Equal(t, "allow-listed\thttps://twitter.com/x\n", out)

	out, err = runCmd(t, "decide", "https://example.com/out?to=x", "--origin", "https://example.com", "--fetch")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("rewritten\t%s/?https://example.com/out?to=x\n", remote.URL), out)
}

func TestDecideCommand_Errors(t *testing.T) {
	_, err := runCmd(t, "decide")
	assert.Error(t, err, "url argument required")

	_, err = runCmd(t, "decide", "https://a.com", "--origin", "example.com")
	assert.Error(t, err)

	t.Setenv("REDIRECT_SERVER", "ftp://nope")
	_, err = runCmd(t, "decide", "https://a.com")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := runCmd(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "redirectd version "+version+"\n", out)
}
