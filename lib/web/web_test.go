/*
 * Hivepot
 * Copyright (C) 2024  Hivepot Contributors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"

	appconfig "github.com/hivepot/hivepot/lib/config"
	"github.com/hivepot/hivepot/lib/events"
	"github.com/hivepot/hivepot/lib/stats"
	"github.com/hivepot/hivepot/lib/storage"
)

func newTestHandler(t *testing.T, mutate func(*Config)) (*Handler, *events.Subscription) {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.New(appconfig.DatabaseConfig{
		Driver: "sqlite",
		URL:    filepath.Join(dir, "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	records := storage.NewWriteBuffer(store)
	t.Cleanup(records.Close)

	bus := events.NewBus()
	cfg := Config{
		App: &appconfig.Config{
			Server: appconfig.ServerConfig{Host: "0.0.0.0", HTTPPort: 8080},
		},
		Engine:    stats.NewEngine(store, clockwork.NewRealClock()),
		Bus:       bus,
		Records:   records,
		StaticDir: filepath.Join(dir, "static"),
	}
	require.NoError(t, os.MkdirAll(cfg.StaticDir, 0o755))
	if mutate != nil {
		mutate(&cfg)
	}

	h, err := NewHandler(cfg)
	require.NoError(t, err)

	sub := bus.Subscribe()
	t.Cleanup(sub.Close)
	return h, sub
}

func nextEvent(t *testing.T, sub *events.Subscription) *events.Event {
	t.Helper()
	select {
	case e := <-sub.C:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestHandlerConfigValidation(t *testing.T) {
	_, err := NewHandler(Config{})
	require.Error(t, err)
}

func TestDashboardPages(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "text/html")

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestSecurityHeaders(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	require.Equal(t, "null", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestLogging(t *testing.T) {
	h, sub := newTestHandler(t, nil)

	r := httptest.NewRequest(http.MethodPost, "/admin.php?x=1", strings.NewReader("a=1&b=2"))
	r.Header.Set("User-Agent", "curlbot")
	r.Header.Set("X-Real-IP", "203.0.113.9")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	// Unknown paths fall through to the echo page, never an error.
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Redirecting")
	require.Contains(t, w.Body.String(), "a=1&amp;b=2")

	e := nextEvent(t, sub)
	require.Equal(t, "http", e.Service)
	require.Equal(t, "203.0.113.9", e.IP)
	require.Equal(t, 80, e.Port)
	require.Equal(t, "/admin.php?x=1", *e.HTTPPath)
	require.Equal(t, "curlbot", *e.UserAgent)
	require.Contains(t, e.Request, "POST /admin.php?x=1")
	require.Contains(t, e.Request, "User-Agent: curlbot")

	// request line + CRLF, two headers with ": " and CRLF, the blank
	// line, then the 7-byte body.
	requestLine := len("POST /admin.php?x=1 HTTP/1.1") + 2
	uaHeader := len("User-Agent") + 2 + len("curlbot") + 2
	ipHeader := len("X-Real-Ip") + 2 + len("203.0.113.9") + 2
	require.Equal(t, int32(requestLine+uaHeader+ipHeader+2+7), e.RequestSize)
}

func TestForwardedPort(t *testing.T) {
	h, sub := newTestHandler(t, nil)

	r := httptest.NewRequest(http.MethodGet, "/probe", nil)
	r.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	r.Header.Set("X-Forwarded-Port", "443")
	h.ServeHTTP(httptest.NewRecorder(), r)

	e := nextEvent(t, sub)
	require.Equal(t, "198.51.100.7", e.IP)
	require.Equal(t, 443, e.Port)
}

func TestRobotsNotLogged(t *testing.T) {
	h, sub := newTestHandler(t, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/robots.txt", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Disallow")

	// The next logged request must be the first event seen.
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/shell.php", nil))
	e := nextEvent(t, sub)
	require.Equal(t, "/shell.php", *e.HTTPPath)
}

func TestHoursValidation(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	for _, uri := range []string{"/api/stats?hours=5", "/api/stats?hours=abc", "/api/countries?hours=-24"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, uri, nil))
		require.Equal(t, http.StatusBadRequest, w.Code, uri)

		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.NotEmpty(t, body["error"])
	}
}

func TestAPIStatsEmptyStore(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "application/json")

	var body stats.StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Zero(t, body.Total)
	require.NotNil(t, body.Services)

	// Empty tables are [], not null.
	require.Contains(t, w.Body.String(), `"services":[]`)
}

func TestCatchAllRedirectTarget(t *testing.T) {
	h, _ := newTestHandler(t, func(cfg *Config) {
		cfg.App.Server.PublicURL = "https://honeypot.example.com"
	})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/wp-login.php", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(),
		`<meta http-equiv="refresh" content="3;url=https://honeypot.example.com">`)
}

func TestCatchAllEscapesEcho(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	r := httptest.NewRequest(http.MethodGet, "/%3Cscript%3Ealert(1)%3C/script%3E", nil)
	r.Header.Set("User-Agent", "<img src=x>")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	body := w.Body.String()
	require.NotContains(t, body, "<script>alert")
	require.NotContains(t, body, "<img src=x>")
	require.Contains(t, body, "&lt;img src=x&gt;")
	// No public URL configured: refresh goes to the site root.
	require.Contains(t, body, `content="3;url=/"`)
}

func TestStaticServesFile(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	require.NoError(t, os.WriteFile(
		filepath.Join(h.cfg.StaticDir, "app.css"), []byte("body{}"), 0o644))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/static/app.css", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "body{}", w.Body.String())
}

func TestStaticMissingFile(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/static/nope.js", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestStaticTraversalDenied(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	secret := filepath.Join(filepath.Dir(h.cfg.StaticDir), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("keys"), 0o600))

	// The router cleans dotted paths before routing, so the traversal
	// guard is exercised on the handler directly.
	w := httptest.NewRecorder()
	h.handleStatic(w, httptest.NewRequest(http.MethodGet, "/static/x", nil),
		httprouter.Params{{Key: "filepath", Value: "../secret.txt"}})
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestStaticSymlinkEscapeDenied(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	secret := filepath.Join(filepath.Dir(h.cfg.StaticDir), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("keys"), 0o600))
	link := filepath.Join(h.cfg.StaticDir, "leak")
	require.NoError(t, os.Symlink(secret, link))

	w := httptest.NewRecorder()
	h.handleStatic(w, httptest.NewRequest(http.MethodGet, "/static/leak", nil),
		httprouter.Params{{Key: "filepath", Value: "leak"}})
	require.Equal(t, http.StatusForbidden, w.Code)
}
