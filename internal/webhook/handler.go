package webhook

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kestrelai/conductor/internal/config"
	"github.com/kestrelai/conductor/internal/pipeline"
	"github.com/kestrelai/conductor/pkg/models"
)

// SessionResolver finds or creates the session a webhook delivery belongs
// to, mirroring coordinator.SessionResolver without importing the
// coordinator package (webhook replies synchronously and doesn't queue
// through a mailbox).
type SessionResolver interface {
	Resolve(mapping config.WebhookMapping, payload Payload) (*models.Session, error)
}

// Handler serves the webhook channel's inbound HTTP endpoint: one mapping
// per configured path, each verified, parsed into a turn, run through the
// pipeline synchronously, and replied to with the mapping's response
// template.
type Handler struct {
	cfg      config.WebhookConfig
	byPath   map[string]config.WebhookMapping
	pipeline *pipeline.Pipeline
	sessions SessionResolver
	logger   *slog.Logger
}

// NewHandler builds a Handler for cfg's mappings, dispatching admitted
// turns through p.
func NewHandler(cfg config.WebhookConfig, p *pipeline.Pipeline, sessions SessionResolver, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	byPath := make(map[string]config.WebhookMapping, len(cfg.Mappings))
	for _, m := range cfg.Mappings {
		byPath[strings.TrimSuffix(cfg.BasePath, "/")+"/"+strings.TrimPrefix(m.Path, "/")] = m
	}
	return &Handler{cfg: cfg, byPath: byPath, pipeline: p, sessions: sessions, logger: logger.With("component", "webhook")}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mapping, ok := h.byPath[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := ReadVerifiedBody(r, h.cfg)
	if err != nil {
		h.logger.Warn("webhook rejected", "mapping", mapping.Name, "error", err)
		status := http.StatusBadRequest
		if err == ErrInvalidSignature {
			status = http.StatusUnauthorized
		}
		http.Error(w, err.Error(), status)
		return
	}

	payload, err := ParsePayload(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	session, err := h.sessions.Resolve(mapping, payload)
	if err != nil {
		h.logger.Error("webhook session resolution failed", "mapping", mapping.Name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	inbound := &models.Message{
		SessionID: session.ID,
		Channel:   models.ChannelWebhook,
		ChannelID: mapping.ChannelID,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   payloadAsText(payload),
		Metadata:  map[string]any{"webhook_mapping": mapping.Name},
	}

	turn := pipeline.NewTurn(r.Context(), session, inbound, h.logger)
	_ = h.pipeline.Run(r.Context(), turn)

	fields := map[string]string{
		"response.text": turn.ResponseText,
	}
	if failed := turn.Failed(); failed != nil {
		fields["error.code"] = string(failed.Code)
		fields["error.message"] = failed.Message
	}

	body2 := RenderTemplate(mapping.ResponseTemplate, fields, payload)
	w.Header().Set("Content-Type", "application/json")
	if turn.Failed() != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	_, _ = w.Write([]byte(body2))
}

func payloadAsText(p Payload) string {
	if text, ok := p["text"]; ok {
		return stringify(text)
	}
	if msg, ok := p["message"]; ok {
		return stringify(msg)
	}
	data, _ := json.Marshal(map[string]any(p))
	return string(data)
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, _ := json.Marshal(v)
	return string(data)
}
