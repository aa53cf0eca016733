package server

import (
	"encoding/json"
	"log/slog"

	"decisionsupport/internal/domain"
)

// RecordResponse is a persisted decision support, investigation or process.
type RecordResponse struct {
	EntityID       int64  `json:"entityId"`
	RevisionID     int64  `json:"revisionId"`
	Label          string `json:"label"`
	RevisionStatus string `json:"revisionStatus"`
	IsCompleted    bool   `json:"isCompleted"`
	JSONString     string `json:"json_string"`
	CreatedTime    string `json:"createdTime" format:"date-time"`
	UpdatedTime    string `json:"updatedTime" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

func recordResponse(e domain.Entity) RecordResponse {
	r := e.Base()
	return RecordResponse{
		EntityID:       r.ID,
		RevisionID:     r.RevisionID,
		Label:          r.Label,
		RevisionStatus: r.RevisionStatus,
		IsCompleted:    r.IsCompleted,
		JSONString:     r.JSONString,
		CreatedTime:    r.CreatedAt,
		UpdatedTime:    r.UpdatedAt,
	}
}

// eventResponse decodes the stored payload. A corrupt payload is logged and served empty.
func eventResponse(logger *slog.Logger, ev domain.Event) EventResponse {
	payload := map[string]any{}
	if err := json.Unmarshal([]byte(ev.Payload), &payload); err != nil {
		logger.Warn("event payload is not valid JSON", "event_id", ev.ID, "error", err)
		payload = map[string]any{}
	}
	return EventResponse{
		ID:         ev.ID,
		TS:         ev.TS,
		Type:       ev.Type,
		EntityKind: ev.EntityKind,
		EntityID:   ev.EntityID,
		ActorID:    ev.ActorID,
		Payload:    payload,
	}
}

// rawPayload passes a stored payload through as JSON. An empty payload is null.
func rawPayload(s string) json.RawMessage {
	if s == "" {
		return json.RawMessage("null")
	}
	return json.RawMessage(s)
}
