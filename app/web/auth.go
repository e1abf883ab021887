package web

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/surajssc1232/royalai/app/persona"
)

const authCookie = "royal-auth"

// handleAuthenticate checks the submitted password against the admin hash and
// opens a session. Wrong passwords get {"success": false} with 200, matching
// the page's expectations; brute force is handled by the login rate limiter.
func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(req.Password)); err != nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"success": false})
		return
	}

	token := s.newSession()
	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    s.signToken(token),
		Path:     "/",
		MaxAge:   int(s.loginTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
	})
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleLogout drops the session and clears the auth cookie
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.sessionFromRequest(r); ok {
		s.sessionsMu.Lock()
		delete(s.sessions, sess.token)
		s.sessionsMu.Unlock()
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1, // delete cookie
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// authMiddleware rejects requests without a valid session. Browser
// navigation is redirected to the login page, API calls get a 401.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.sessionFromRequest(r); ok {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html") {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		s.writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
	})
}

// newSession creates a session with the default persona and returns its token
func (s *Server) newSession() string {
	token := uuid.New().String()
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	s.sessions[token] = &session{token: token, personaKey: persona.DefaultKey, createdAt: time.Now()}
	return token
}

// sessionFromRequest validates the auth cookie signature and TTL and returns
// the live session. Expired sessions are removed on access.
func (s *Server) sessionFromRequest(r *http.Request) (*session, bool) {
	cookie, err := r.Cookie(authCookie)
	if err != nil {
		return nil, false
	}
	token, ok := s.verifyToken(cookie.Value)
	if !ok {
		return nil, false
	}

	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return nil, false
	}
	if time.Since(sess.createdAt) > s.loginTTL {
		log.Printf("[DEBUG] session %s expired", token)
		delete(s.sessions, token)
		return nil, false
	}
	return sess, true
}

// currentPersona returns the session's persona, falling back to the default
func (s *Server) currentPersona(r *http.Request) persona.Persona {
	sess, ok := s.sessionFromRequest(r)
	if !ok {
		return s.personas.Default()
	}
	s.sessionsMu.Lock()
	key := sess.personaKey
	s.sessionsMu.Unlock()
	if p, found := s.personas.Get(key); found {
		return p
	}
	return s.personas.Default()
}

// setSessionPersona updates the persona selection of the request's session
func (s *Server) setSessionPersona(r *http.Request, key string) {
	sess, ok := s.sessionFromRequest(r)
	if !ok {
		return
	}
	s.sessionsMu.Lock()
	sess.personaKey = key
	s.sessionsMu.Unlock()
}

// signToken produces "token.signature" with an HMAC over the process secret
func (s *Server) signToken(token string) string {
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write([]byte(token))
	return token + "." + hex.EncodeToString(mac.Sum(nil))
}

// verifyToken checks the cookie value signature and extracts the token
func (s *Server) verifyToken(value string) (string, bool) {
	token, sig, found := strings.Cut(value, ".")
	if !found || token == "" {
		return "", false
	}
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write([]byte(token))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return "", false
	}
	return token, true
}
