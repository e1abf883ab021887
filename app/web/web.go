// Package web implements the HTTP surface of the royal chat: login gate,
// chat page, and the JSON submit/poll API.
package web

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/surajssc1232/royalai/app/history"
	"github.com/surajssc1232/royalai/app/persona"
	"github.com/surajssc1232/royalai/app/store"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Submitter dispatches a chat job and returns its id without blocking.
type Submitter interface {
	Submit(message string, p persona.Persona) string
}

// Poller reads job state by id, consuming terminal results.
type Poller interface {
	Poll(id string) (store.Result, store.Status)
}

// HistoryProvider returns recent finished exchanges.
type HistoryProvider interface {
	Recent(limit int) ([]history.Exchange, error)
}

// session is an authenticated user with their persona selection
type session struct {
	token      string
	personaKey string
	createdAt  time.Time
}

// Server represents the web server.
type Server struct {
	personas       *persona.Registry
	submitter      Submitter
	poller         Poller
	hist           HistoryProvider // nil when history is disabled
	passwordHash   string          // bcrypt hash of the admin password
	secret         string          // session signing secret
	loginTTL       time.Duration
	version        string
	templates      map[string]*template.Template
	sessions       map[string]*session
	sessionsMu     sync.Mutex
	csrfProtection *http.CrossOriginProtection
	loginLimiter   *limiter.Limiter
	messageLimiter *limiter.Limiter
}

// Config holds server configuration.
type Config struct {
	Personas     *persona.Registry
	Submitter    Submitter
	Poller       Poller
	History      HistoryProvider // optional
	PasswordHash string          // bcrypt hash for the admin password
	Secret       string          // session signing secret
	LoginTTL     time.Duration   // session TTL, defaults to 24h
	Version      string
	LoginLimit   float64 // login attempts per second per IP, defaults to 1
	MessageLimit float64 // send_message requests per second per IP, defaults to 1
}

// New creates a new web server.
func New(cfg Config) (*Server, error) {
	if cfg.Personas == nil {
		return nil, fmt.Errorf("web server initialization failed: persona registry is required")
	}
	if cfg.Submitter == nil || cfg.Poller == nil {
		return nil, fmt.Errorf("web server initialization failed: submitter and poller are required")
	}
	if cfg.PasswordHash == "" || cfg.Secret == "" {
		return nil, fmt.Errorf("web server initialization failed: password hash and secret are required")
	}

	loginTTL := cfg.LoginTTL
	if loginTTL == 0 {
		loginTTL = 24 * time.Hour
	}
	loginLimit := cfg.LoginLimit
	if loginLimit == 0 {
		loginLimit = 1
	}
	messageLimit := cfg.MessageLimit
	if messageLimit == 0 {
		messageLimit = 1
	}

	s := &Server{
		personas:       cfg.Personas,
		submitter:      cfg.Submitter,
		poller:         cfg.Poller,
		hist:           cfg.History,
		passwordHash:   cfg.PasswordHash,
		secret:         cfg.Secret,
		loginTTL:       loginTTL,
		version:        cfg.Version,
		sessions:       make(map[string]*session),
		csrfProtection: http.NewCrossOriginProtection(),
		loginLimiter:   tollbooth.NewLimiter(loginLimit, &limiter.ExpirableOptions{DefaultExpirationTTL: 10 * time.Minute}),
		messageLimiter: tollbooth.NewLimiter(messageLimit, &limiter.ExpirableOptions{DefaultExpirationTTL: 10 * time.Minute}),
	}
	s.loginLimiter.SetBurst(3)
	s.messageLimiter.SetBurst(5)

	templates, err := s.parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("web server initialization failed: %w", err)
	}
	s.templates = templates

	return s, nil
}

// Run starts the web server and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		}
	}()

	log.Printf("[INFO] starting web server on %s", address)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	// global middleware - applied to all routes
	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(1000),
		rest.AppInfo("royalai", "surajssc1232", s.version),
		rest.Ping,
		rest.Trace,
		rest.SizeLimit(64*1024), // 64KB max request size
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
	)

	// public routes
	router.HandleFunc("GET /{$}", s.handleLoginPage)
	router.With(s.csrfProtection.Handler, tollbooth.HTTPMiddleware(s.loginLimiter)).
		HandleFunc("POST /authenticate", s.handleAuthenticate)
	router.HandleFunc("GET /logout", s.handleLogout)

	// everything else requires a valid session
	router.Group().Route(func(priv *routegroup.Bundle) {
		priv.Use(s.authMiddleware)
		priv.HandleFunc("GET /chat", s.handleChatPage)
		priv.With(rest.NoCache, s.csrfProtection.Handler, tollbooth.HTTPMiddleware(s.messageLimiter)).
			HandleFunc("POST /send_message", s.handleSendMessage)
		priv.With(rest.NoCache).HandleFunc("GET /get_response/{id}", s.handlePoll)
		priv.With(s.csrfProtection.Handler).HandleFunc("POST /set_personality", s.handleSetPersonality)
		priv.HandleFunc("GET /personalities", s.handlePersonalities)
		priv.With(rest.NoCache).HandleFunc("GET /api/v1/history", s.handleHistory)
	})

	// anything unmatched gets a JSON 404 instead of the mux plain-text page
	router.NotFoundHandler(s.handleNotFound)

	// static files with proper error handling
	fsys, err := fs.Sub(staticFS, "static")
	if err != nil {
		log.Printf("[ERROR] failed to create static file system: %v", err)
		router.Handle("GET /static/", http.FileServer(http.FS(staticFS)))
	} else {
		router.HandleFiles("/static/", http.FS(fsys))
	}

	return router
}

// render renders a template
func (s *Server) render(w http.ResponseWriter, page string, data any) {
	tmpl, ok := s.templates[page]
	if !ok {
		log.Printf("[WARN] template %s not found", page)
		http.Error(w, "Template not found", http.StatusInternalServerError)
		return
	}

	buf := new(bytes.Buffer)
	if err := tmpl.Execute(buf, data); err != nil {
		log.Printf("[WARN] failed to execute template %s: %v", page, err)
		http.Error(w, "Template error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		log.Printf("[WARN] failed to write response: %v", err)
	}
}

// parseTemplates parses login and chat pages
func (s *Server) parseTemplates() (map[string]*template.Template, error) {
	templates := make(map[string]*template.Template)
	for _, name := range []string{"login.html", "chat.html"} {
		tmpl, err := template.New(name).ParseFS(templatesFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		templates[name] = tmpl
	}
	return templates, nil
}
