package domain

import (
	"encoding/json"
	"fmt"
)

const (
	TypeDecisionSupport = "decision_support"
	TypeInvestigation   = "investigation"
	TypeProcess         = "process"
)

const RevisionStatusPublished = "published"

// Record holds the fields every stored entity shares. JSONString is the opaque payload
// whose shape belongs to the owning service.
type Record struct {
	ID             int64  `json:"entityId"`
	RevisionID     int64  `json:"revisionId"`
	Label          string `json:"label"`
	RevisionStatus string `json:"revisionStatus"`
	IsCompleted    bool   `json:"isCompleted"`
	JSONString     string `json:"json_string"`
	CreatedAt      string `json:"createdTime" format:"date-time"`
	UpdatedAt      string `json:"updatedTime" format:"date-time"`
}

// Base exposes the shared fields of an entity.
func (r *Record) Base() *Record { return r }

// Entity is a typed record handled by the entity store.
type Entity interface {
	EntityType() string
	Base() *Record
}

type DecisionSupport struct {
	Record
}

func (*DecisionSupport) EntityType() string { return TypeDecisionSupport }

type Investigation struct {
	Record
}

func (*Investigation) EntityType() string { return TypeInvestigation }

type Process struct {
	Record
}

func (*Process) EntityType() string { return TypeProcess }

// NewEntity returns an empty entity of the given type.
func NewEntity(entityType string) (Entity, error) {
	switch entityType {
	case TypeDecisionSupport:
		return &DecisionSupport{}, nil
	case TypeInvestigation:
		return &Investigation{}, nil
	case TypeProcess:
		return &Process{}, nil
	default:
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}
}

// DecisionSupportSummary is one row of the decision support listing.
type DecisionSupportSummary struct {
	Label          string `json:"label"`
	EntityID       int64  `json:"entityId"`
	RevisionID     int64  `json:"revisionId"`
	CreatedTime    string `json:"createdTime" format:"date-time"`
	UpdatedTime    string `json:"updatedTime" format:"date-time"`
	RevisionStatus string `json:"revisionStatus"`
	IsCompleted    bool   `json:"isCompleted"`
	JSONString     string `json:"json_string"`
}

// DecisionSupportFile describes an exported decision support payload in blob storage.
type DecisionSupportFile struct {
	EntityID    int64  `json:"entityId"`
	Key         string `json:"key"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	ETag        string `json:"etag,omitempty"`
	UpdatedAt   string `json:"updatedTime" format:"date-time"`
	// Content is set when the file is read back.
	Content json.RawMessage `json:"content,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
