package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethangolledge/vapebot/internal/models"
	"github.com/ethangolledge/vapebot/internal/setup"
)

// emptyTwiML acknowledges a webhook without sending a reply through Twilio;
// replies go out through the REST API once the wizard has run.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// setupView is the JSON body of GET /setups/{userID}.
type setupView struct {
	Record   models.SetupRecord `json:"record"`
	Complete bool               `json:"complete"`
	Summary  string             `json:"summary"`
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

func (s *Server) setupHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	rec, err := s.setups.Lookup(r.Context(), userID)
	if err != nil {
		var se *setup.StateError
		if errors.As(err, &se) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("setup not found"))
			return
		}
		slog.Error("Server.setupHandler: lookup failed", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load setup"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(setupView{
		Record:   rec,
		Complete: rec.Complete(),
		Summary:  setup.FormatSummary(rec),
	}))
}

func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.twilioWebhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k, v := range r.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		if !s.validator.Validate(s.signedURL(r), params, r.Header.Get("X-Twilio-Signature")) {
			slog.Warn("Server.twilioWebhookHandler: invalid signature", "remote", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	from, body := r.PostForm.Get("From"), r.PostForm.Get("Body")
	if from == "" || body == "" {
		slog.Warn("Server.twilioWebhookHandler: missing fields", "from_set", from != "", "body_set", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	err := s.inbound.Deliver(models.Response{
		From:      from,
		Body:      body,
		Time:      time.Now().Unix(),
		MessageID: r.PostForm.Get("MessageSid"),
	})
	if err != nil {
		slog.Error("Server.twilioWebhookHandler: failed to queue message", "error", err, "from", from)
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(emptyTwiML)); err != nil {
		slog.Error("Server.twilioWebhookHandler: failed to write response", "error", err)
	}
}

// signedURL is the URL Twilio computed the signature over.
func (s *Server) signedURL(r *http.Request) string {
	if s.webhookURL != "" {
		return s.webhookURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
