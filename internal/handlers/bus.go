package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-ingest/internal/bus"
)

type BusHandler struct {
	publisher bus.Publisher
	logger    zerolog.Logger
}

func NewBusHandler(publisher bus.Publisher, logger zerolog.Logger) *BusHandler {
	return &BusHandler{
		publisher: publisher,
		logger:    logger.With().Str("handler", "bus").Logger(),
	}
}

// Publish sends an arbitrary message. A JSON string message is sent as its text;
// any other JSON value is sent as is.
func (h *BusHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Topic   string          `json:"topic"`
		Key     string          `json:"key"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request payload")
		return
	}
	topic := strings.TrimSpace(payload.Topic)
	if topic == "" || len(payload.Message) == 0 {
		writeError(w, r, http.StatusBadRequest, "topic and message are required")
		return
	}

	value := []byte(payload.Message)
	var text string
	if err := json.Unmarshal(payload.Message, &text); err == nil {
		value = []byte(text)
	}

	if err := h.publisher.Publish(r.Context(), bus.Message{Topic: topic, Key: payload.Key, Value: value}); err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("failed to publish message")
		writeError(w, r, http.StatusBadGateway, "Failed to publish message")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "published", "topic": topic})
}
