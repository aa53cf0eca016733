package engine

import (
	"log/slog"

	"github.com/google/uuid"

	"decisionsupport/internal/blob"
	"decisionsupport/internal/repo"
)

// Engine runs the decision support, investigation and process operations against an entity store.
type Engine struct {
	Store  repo.EntityStore
	Blobs  blob.Store
	Logger *slog.Logger
	// NewUUID generates the uuid embedded in decision support payloads.
	NewUUID func() string
}

func New(store repo.EntityStore, blobs blob.Store, logger *slog.Logger) Engine {
	return Engine{
		Store:   store,
		Blobs:   blobs,
		Logger:  logger,
		NewUUID: uuid.NewString,
	}
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) newUUID() string {
	if e.NewUUID != nil {
		return e.NewUUID()
	}
	return uuid.NewString()
}
