package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	log "github.com/go-pkgz/lgr"

	"github.com/surajssc1232/royalai/app/persona"
	"github.com/surajssc1232/royalai/app/provider"
	"github.com/surajssc1232/royalai/app/store"
)

// SendMessageResponse is the JSON response for POST /send_message
type SendMessageResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// PersonaInfo is the public view of a persona in JSON responses
type PersonaInfo struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Emoji string `json:"emoji"`
}

func toPersonaInfo(p persona.Persona) PersonaInfo {
	return PersonaInfo{Key: p.Key, Title: p.Title, Emoji: p.Emoji}
}

// handleLoginPage renders the password gate, sending authenticated users
// straight to the chat
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.sessionFromRequest(r); ok {
		http.Redirect(w, r, "/chat", http.StatusSeeOther)
		return
	}
	s.render(w, "login.html", map[string]any{"Version": s.version})
}

// handleChatPage renders the chat with the persona selector
func (s *Server) handleChatPage(w http.ResponseWriter, r *http.Request) {
	current := s.currentPersona(r)
	data := map[string]any{
		"Personas": s.personas.List(),
		"Current":  current,
		"Version":  s.version,
	}
	s.render(w, "chat.html", data)
}

// handleSendMessage accepts a message and returns the id of the queued job.
// The reply is produced asynchronously and fetched via /get_response/{id}.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeJSONError(w, http.StatusBadRequest, "no message provided")
		return
	}

	p := s.currentPersona(r)
	id := s.submitter.Submit(req.Message, p)
	log.Printf("[INFO] message accepted, job %s, persona %s", id, p.Key)

	s.writeJSON(w, http.StatusOK, SendMessageResponse{RequestID: id, Status: "processing"})
}

// handlePoll reports the state of a submitted job. The first poll that sees
// a finished job consumes it; later polls of the same id get a 404.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		s.writeJSONError(w, http.StatusBadRequest, "request id required")
		return
	}

	res, status := s.poller.Poll(id)
	switch status {
	case store.StatusUnknown:
		s.writeJSONError(w, http.StatusNotFound, "unknown request id")
	case store.StatusProcessing:
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "processing"})
	case store.StatusDone:
		s.writeJSON(w, http.StatusOK, map[string]string{"response": res.Text})
	case store.StatusFailed:
		kind := provider.KindOf(res.Err)
		log.Printf("[WARN] job %s delivered as failure, kind %s: %v", id, kind, res.Err)
		s.writeJSONError(w, statusForKind(kind), s.flavoredError(r, kind))
	}
}

// handleSetPersonality switches the session's persona
func (s *Server) handleSetPersonality(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Personality string `json:"personality"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, ok := s.personas.Get(req.Personality)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown personality %q", req.Personality))
		return
	}

	s.setSessionPersona(r, p.Key)
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "personality": toPersonaInfo(p)})
}

// handlePersonalities lists available personas and the current selection
func (s *Server) handlePersonalities(w http.ResponseWriter, r *http.Request) {
	list := s.personas.List()
	infos := make([]PersonaInfo, 0, len(list))
	for _, p := range list {
		infos = append(infos, toPersonaInfo(p))
	}
	resp := map[string]any{
		"personalities": infos,
		"current":       s.currentPersona(r).Key,
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleHistory returns recent finished exchanges
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.hist == nil {
		s.writeJSONError(w, http.StatusNotFound, "history is disabled")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	exchanges, err := s.hist.Recent(limit)
	if err != nil {
		log.Printf("[ERROR] failed to load history: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"exchanges": exchanges})
}

// handleNotFound answers unmatched routes with a JSON error body
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeJSONError(w, http.StatusNotFound, "Not Found")
}

// statusForKind maps a provider failure kind to an HTTP status
func statusForKind(kind provider.Kind) int {
	switch kind {
	case provider.KindTimeout:
		return http.StatusRequestTimeout
	case provider.KindRateLimited:
		return http.StatusTooManyRequests
	default: // quota, empty response, unknown
		return http.StatusInternalServerError
	}
}

// flavoredError renders a failure in the voice of the session's persona
func (s *Server) flavoredError(r *http.Request, kind provider.Kind) string {
	p := s.currentPersona(r)
	var msg string
	switch kind {
	case provider.KindQuotaExceeded:
		msg = "The royal treasury has run dry. The court can grant no further audiences this day."
	case provider.KindTimeout:
		msg = "The royal messenger tarried too long on the road. Pray send thy petition anew."
	case provider.KindRateLimited:
		msg = "The court is overwhelmed with petitions. Pray return in a short while."
	case provider.KindEmptyResponse:
		msg = "The royal scribe returned an empty scroll. Pray rephrase thy petition."
	default:
		msg = "An ill wind has disturbed the court. Pray attempt thy petition once more."
	}
	return fmt.Sprintf("%s %s %s", p.Emoji, msg, p.Emoji)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		log.Printf("[WARN] failed to encode JSON error response: %v", err)
	}
}
