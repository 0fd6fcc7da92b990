// Package adapthttp implements the HTTP adapter for the application.
package adapthttp

import (
	"net/http"
	"net/netip"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/oauth2"

	"calorielog/internal/app"
)

// maxImageBody bounds POST /analyze bodies. Base64 inflates photos by a third.
const maxImageBody = 20 << 20

// maxOrchestrators bounds the per-user orchestrator cache. The least
// recently used user loses their last status first.
const maxOrchestrators = 256

// OIDCConfig holds the SSO provider. Enabled is false when SSO is not
// configured.
type OIDCConfig struct {
	Enabled      bool
	Provider     *oidc.Provider
	OAuth2Config oauth2.Config
}

// Server is the driving HTTP adapter that routes requests to application
// services.
type Server struct {
	history  *app.HistoryService
	authSvc  *app.AuthService
	analyzer app.Analyzer
	orchOpts []app.OrchestratorOption

	oidcConfig     OIDCConfig
	disableAuth    bool
	trustedProxies []netip.Prefix

	mu            sync.Mutex
	orchestrators *lru.Cache[int64, *app.Orchestrator]
}

// New creates a Server wired to the given application services. Each user
// gets an orchestrator built from analyzer and opts on first use.
func New(hs *app.HistoryService, as *app.AuthService, analyzer app.Analyzer, opts ...app.OrchestratorOption) *Server {
	cache, err := lru.New[int64, *app.Orchestrator](maxOrchestrators)
	if err != nil {
		panic(err) // only for a non-positive size
	}
	return &Server{
		history:       hs,
		authSvc:       as,
		analyzer:      analyzer,
		orchOpts:      opts,
		orchestrators: cache,
	}
}

// WithOIDC enables SSO login.
func (s *Server) WithOIDC(cfg OIDCConfig) *Server {
	s.oidcConfig = cfg
	return s
}

// WithForwardAuth accepts the Remote-User header from peers inside trusted.
// Users named by the proxy are created on first sight.
func (s *Server) WithForwardAuth(trusted []netip.Prefix) *Server {
	s.trustedProxies = trusted
	return s
}

// WithoutAuth serves every request as the default user.
func (s *Server) WithoutAuth() *Server {
	s.disableAuth = true
	return s
}

// Handler returns the root http.Handler for the application.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	api.HandleFunc("/auth/login", s.handleLogin)
	api.HandleFunc("/auth/logout", s.handleLogout)
	api.HandleFunc("/auth/setup", s.handleSetupUser)
	api.HandleFunc("/auth/config", s.handleConfig)
	api.HandleFunc("/auth/sso/login", s.handleSSOLogin)
	api.HandleFunc("/auth/sso/callback", s.handleSSOCallback)

	protected := http.NewServeMux()
	protected.HandleFunc("/analyze", s.handleAnalyze)
	protected.HandleFunc("/analyze/status", s.handleAnalyzeStatus)
	protected.HandleFunc("/history", s.handleHistory)
	protected.HandleFunc("/history/{id}", s.handleHistoryEntry)
	protected.HandleFunc("/charts/daily", s.handleChartsDaily)
	api.Handle("/", s.authMiddleware(protected))

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", api))

	return s.loggingMiddleware(withNoCache(root))
}

// orchestrator returns the user's orchestrator, creating it on first use.
// An evicted user starts again from Idle.
func (s *Server) orchestrator(userID int64) *app.Orchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orchestrators.Get(userID)
	if !ok {
		o = app.NewOrchestrator(s.analyzer, nil, s.orchOpts...)
		s.orchestrators.Add(userID, o)
	}
	return o
}
