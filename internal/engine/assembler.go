package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"decisionsupport/internal/domain"
)

// processSnapshot is the part of a process copied into a decision support payload.
type processSnapshot struct {
	ID    int64
	Label string
	Steps json.RawMessage
}

// DecisionSupportPayload is the stored JSON shape of a freshly created decision support.
type DecisionSupportPayload struct {
	EntityID             int64           `json:"entityId"`
	UUID                 string          `json:"uuid"`
	DecisionSupportLabel string          `json:"decisionSupportLabel"`
	ProcessID            int64           `json:"processId"`
	ProcessLabel         string          `json:"processLabel"`
	Steps                json.RawMessage `json:"steps"`
	IsCompleted          bool            `json:"isCompleted"`
}

func snapshotProcess(p *domain.Process) (processSnapshot, error) {
	snap := processSnapshot{ID: p.ID, Label: p.Label}
	if strings.TrimSpace(p.JSONString) == "" {
		return snap, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(p.JSONString), &fields); err != nil {
		return processSnapshot{}, fmt.Errorf("decode process %d payload: %w", p.ID, err)
	}
	snap.Steps = fields["steps"]
	return snap, nil
}

// assembleDecisionSupport builds the payload for a saved decision support record.
// Steps are copied byte for byte; a process without steps yields null.
func assembleDecisionSupport(ds *domain.Record, proc processSnapshot, id string) (string, error) {
	steps := proc.Steps
	if len(steps) == 0 {
		steps = json.RawMessage("null")
	}
	data, err := json.Marshal(DecisionSupportPayload{
		EntityID:             ds.ID,
		UUID:                 id,
		DecisionSupportLabel: ds.Label,
		ProcessID:            proc.ID,
		ProcessLabel:         proc.Label,
		Steps:                steps,
		IsCompleted:          ds.IsCompleted,
	})
	if err != nil {
		return "", fmt.Errorf("encode decision support payload: %w", err)
	}
	return string(data), nil
}

func encodePayload(data any) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(b), nil
}

// lookupID reads an entity id from decoded request data.
func lookupID(data map[string]any, key string) (string, bool) {
	switch v := data[key].(type) {
	case string:
		v = strings.TrimSpace(v)
		return v, v != ""
	case float64:
		if v != math.Trunc(v) {
			return "", false
		}
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return strconv.FormatInt(n, 10), true
		}
		f, err := v.Float64()
		if err != nil || f != math.Trunc(f) {
			return "", false
		}
		return strconv.FormatFloat(f, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	default:
		return "", false
	}
}
