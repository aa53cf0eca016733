package engine

import (
	"context"
	"errors"
	"fmt"

	"decisionsupport/internal/domain"
	"decisionsupport/internal/repo"
)

const (
	kindDecisionSupport = "DecisionSupport"
	kindInvestigation   = "Investigation"
	kindProcess         = "Process"
)

// load resolves id to an entity of entityType, mapping a miss to NotFoundError.
func (e Engine) load(ctx context.Context, entityType, kind, id string) (domain.Entity, error) {
	ent, err := e.Store.Load(ctx, entityType, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, NotFoundError{Kind: kind, ID: id}
	}
	if err != nil {
		return nil, e.upstream("loading "+kind, err)
	}
	return ent, nil
}

func (e Engine) loadDecisionSupport(ctx context.Context, id string) (*domain.DecisionSupport, error) {
	ent, err := e.load(ctx, domain.TypeDecisionSupport, kindDecisionSupport, id)
	if err != nil {
		return nil, err
	}
	ds, ok := ent.(*domain.DecisionSupport)
	if !ok {
		return nil, NotFoundError{Kind: kindDecisionSupport, ID: id}
	}
	return ds, nil
}

func summarize(ds *domain.DecisionSupport) domain.DecisionSupportSummary {
	return domain.DecisionSupportSummary{
		Label:          ds.Label,
		EntityID:       ds.ID,
		RevisionID:     ds.RevisionID,
		CreatedTime:    ds.CreatedAt,
		UpdatedTime:    ds.UpdatedAt,
		RevisionStatus: ds.RevisionStatus,
		IsCompleted:    ds.IsCompleted,
		JSONString:     ds.JSONString,
	}
}

// ListDecisionSupport summarizes every stored decision support. Entities of other types are skipped.
// An empty store yields an empty list; a store failure is returned as an UpstreamError rather
// than an empty list, so HTTP callers see a 500.
func (e Engine) ListDecisionSupport(ctx context.Context) ([]domain.DecisionSupportSummary, error) {
	ents, err := e.Store.LoadMultiple(ctx, domain.TypeDecisionSupport)
	if err != nil {
		return nil, e.upstream("loading DecisionSupport list", err)
	}
	list := make([]domain.DecisionSupportSummary, 0, len(ents))
	for _, ent := range ents {
		ds, ok := ent.(*domain.DecisionSupport)
		if !ok {
			continue
		}
		list = append(list, summarize(ds))
	}
	return list, nil
}

// GetDecisionSupport returns the stored payload of a decision support.
func (e Engine) GetDecisionSupport(ctx context.Context, id string) (string, error) {
	ds, err := e.loadDecisionSupport(ctx, id)
	if err != nil {
		return "", err
	}
	return ds.JSONString, nil
}

// CreateDecisionSupport stores a decision support built from data and the process named by
// data["process_id"]. The record and its assembled payload are saved in one transaction.
func (e Engine) CreateDecisionSupport(ctx context.Context, data map[string]any) (*domain.DecisionSupport, error) {
	processID, ok := lookupID(data, "process_id")
	if !ok {
		return nil, invalidInput("process_id required")
	}
	proc, err := e.loadProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	snap, err := snapshotProcess(proc)
	if err != nil {
		return nil, e.upstream("reading Process "+processID, err)
	}

	var created *domain.DecisionSupport
	err = e.Store.InTx(ctx, func(s repo.EntityStore) error {
		ent, err := s.Create(domain.TypeDecisionSupport, data)
		if err != nil {
			return invalidInput("%v", err)
		}
		ds, ok := ent.(*domain.DecisionSupport)
		if !ok {
			return fmt.Errorf("store created %T, want decision support", ent)
		}
		if _, err := s.Save(ctx, ds); err != nil {
			return err
		}
		payload, err := assembleDecisionSupport(&ds.Record, snap, e.newUUID())
		if err != nil {
			return err
		}
		ds.JSONString = payload
		if _, err := s.Save(ctx, ds); err != nil {
			return err
		}
		created = ds
		return nil
	})
	if errors.Is(err, ErrInvalidInput) {
		return nil, err
	}
	if err != nil {
		return nil, e.upstream("creating DecisionSupport", err)
	}
	e.logger().Info("Created new DecisionSupport entity", "id", created.ID)
	return created, nil
}

// UpdateDecisionSupport replaces the payload of a decision support with data encoded as JSON.
func (e Engine) UpdateDecisionSupport(ctx context.Context, id string, data map[string]any) (*domain.DecisionSupport, error) {
	ds, err := e.loadDecisionSupport(ctx, id)
	if err != nil {
		return nil, err
	}
	payload, err := encodePayload(data)
	if err != nil {
		return nil, e.upstream("updating DecisionSupport "+id, err)
	}
	ds.JSONString = payload
	if _, err := e.Store.Save(ctx, ds); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, NotFoundError{Kind: kindDecisionSupport, ID: id}
		}
		return nil, e.upstream("updating DecisionSupport "+id, err)
	}
	return ds, nil
}

// ArchiveDecisionSupport deletes a decision support.
func (e Engine) ArchiveDecisionSupport(ctx context.Context, id string) error {
	ds, err := e.loadDecisionSupport(ctx, id)
	if err != nil {
		return err
	}
	if err := e.Store.Delete(ctx, ds); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return NotFoundError{Kind: kindDecisionSupport, ID: id}
		}
		return e.upstream("archiving DecisionSupport "+id, err)
	}
	e.logger().Info("Moved DecisionSupport to archived", "id", id)
	return nil
}
