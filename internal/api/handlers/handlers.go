// Package handlers implements the HTTP handlers for the ForgeBot
// webhook service. The webhook handler is a thin shell: signature
// verification and body reading here, classification and routing in
// internal/event.
package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/forgebot/forgebot/internal/event"
	"github.com/forgebot/forgebot/pkg/models"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes bounds webhook payload reads. GitHub caps deliveries at
// 25 MB; anything larger is not a webhook.
const maxBodyBytes = 25 << 20

// Handlers holds all handler dependencies.
type Handlers struct {
	Dispatcher    *event.Dispatcher
	WebhookSecret string
	Version       string
}

// New creates a Handlers instance.
func New(d *event.Dispatcher, webhookSecret, version string) *Handlers {
	return &Handlers{
		Dispatcher:    d,
		WebhookSecret: webhookSecret,
		Version:       version,
	}
}

// Webhook handles one inbound event delivery.
//
// Responses: 200 {"success":true}, 200 {"message":"pong"} for pings,
// 422 {"detail":...} for malformed payloads, 401 for bad signatures.
// Anything else that goes wrong is an unhandled failure and returns 500.
func (h *Handlers) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondDetail(w, http.StatusUnprocessableEntity, "failed to read request body")
		return
	}

	if h.WebhookSecret != "" && !h.verifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		respondDetail(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	kind := r.Header.Get("X-GitHub-Event")
	if kind == "" {
		respondDetail(w, http.StatusUnprocessableEntity, "missing X-GitHub-Event header")
		return
	}

	resp, err := h.Dispatcher.Handle(r.Context(), kind, body)
	if err != nil {
		var schemaErr *models.SchemaError
		if errors.As(err, &schemaErr) {
			log.Warn().Err(schemaErr).Str("event", kind).Msg("Failed to parse request")
			respondDetail(w, http.StatusUnprocessableEntity, schemaErr.Error())
			return
		}
		// Dispatch and platform failures propagate here uncaught.
		log.Error().Err(err).Str("event", kind).Msg("Webhook handling failed")
		respondDetail(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// verifySignature checks the HMAC-SHA256 delivery signature.
func (h *Handlers) verifySignature(body []byte, header string) bool {
	mac := hmac.New(sha256.New, []byte(h.WebhookSecret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "forgebot-webhook",
	})
}

// VersionInfo reports the running version.
func (h *Handlers) VersionInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"version": h.Version,
		"service": "forgebot-webhook",
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondDetail(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, map[string]string{"detail": detail})
}
