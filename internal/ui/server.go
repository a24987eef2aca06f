// Package ui serves the browser dashboard: REST routes over the engine plus
// embedded static assets. It binds to loopback unless remote access is
// explicitly allowed, in which case bearer-token auth is mandatory.
package ui

import (
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net"
	"net/http"
	"strings"

	"github.com/filigree-dev/filigree/internal/engine"
	"github.com/filigree-dev/filigree/internal/summary"
)

//go:embed static
var staticFS embed.FS

func init() {
	// Some platforms default .js/.css to text/plain, which breaks ES module
	// loading in browsers.
	_ = mime.AddExtensionType(".js", "text/javascript; charset=utf-8")
	_ = mime.AddExtensionType(".css", "text/css; charset=utf-8")
}

// DetermineAccess inspects the listen address and reports whether
// authentication is required. Non-loopback binds are refused unless
// allowRemote is set.
func DetermineAccess(listenAddr string, allowRemote bool) (bool, error) {
	host, _, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return false, fmt.Errorf("invalid listen address %q: %w", listenAddr, err)
	}
	if host == "" {
		host = "0.0.0.0"
	}
	if isLoopbackHost(host) {
		return false, nil
	}
	if !allowRemote {
		return false, fmt.Errorf("refusing remote bind to %q without --allow-remote", host)
	}
	return true, nil
}

// HandlerConfig captures the inputs for building the dashboard handler.
type HandlerConfig struct {
	Engine      *engine.Engine
	Snapshot    *summary.Generator // may be nil
	RequireAuth bool
	AuthToken   string
}

// NewHandler builds the full HTTP handler: /healthz, /static/, the /api/
// routes, and the index page.
func NewHandler(cfg HandlerConfig) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if cfg.RequireAuth && strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, errors.New("auth token required when authentication is enabled")
	}

	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("static assets: %w", err)
	}
	indexHTML, err := fs.ReadFile(sub, "index.html")
	if err != nil {
		return nil, fmt.Errorf("load index page: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthHandler)
	mux.Handle("GET /static/", http.StripPrefix("/static/", assetHandler(sub)))
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(indexHTML)
	})

	registerAPI(mux, &apiHandler{eng: cfg.Engine, snapshot: cfg.Snapshot})

	if !cfg.RequireAuth {
		return mux, nil
	}

	expectedHeader := "Bearer " + strings.TrimSpace(cfg.AuthToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actual := strings.TrimSpace(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare([]byte(actual), []byte(expectedHeader)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="filigree-ui"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		mux.ServeHTTP(w, r)
	}), nil
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func assetHandler(staticFS fs.FS) http.Handler {
	fileServer := http.FileServer(http.FS(staticFS))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		fileServer.ServeHTTP(w, r)
	})
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
