package engine

import (
	"context"
	"errors"
	"maps"

	"decisionsupport/internal/domain"
)

func (e Engine) loadProcess(ctx context.Context, id string) (*domain.Process, error) {
	ent, err := e.load(ctx, domain.TypeProcess, kindProcess, id)
	if err != nil {
		return nil, err
	}
	p, ok := ent.(*domain.Process)
	if !ok {
		return nil, NotFoundError{Kind: kindProcess, ID: id}
	}
	return p, nil
}

// CreateProcess stores a process whose payload is data with steps defaulted to an empty list.
func (e Engine) CreateProcess(ctx context.Context, data map[string]any) (*domain.Process, error) {
	ent, err := e.Store.Create(domain.TypeProcess, data)
	if err != nil {
		return nil, invalidInput("%v", err)
	}
	p, ok := ent.(*domain.Process)
	if !ok {
		return nil, e.upstream("creating Process", errors.New("store returned a different entity type"))
	}
	payload := maps.Clone(data)
	if payload == nil {
		payload = map[string]any{}
	}
	if payload["steps"] == nil {
		payload["steps"] = []any{}
	}
	if p.JSONString, err = encodePayload(payload); err != nil {
		return nil, e.upstream("creating Process", err)
	}
	if _, err := e.Store.Save(ctx, p); err != nil {
		return nil, e.upstream("creating Process", err)
	}
	e.logger().Info("Created new Process entity", "id", p.ID)
	return p, nil
}

func (e Engine) GetProcess(ctx context.Context, id string) (*domain.Process, error) {
	return e.loadProcess(ctx, id)
}

func (e Engine) ListProcesses(ctx context.Context) ([]*domain.Process, error) {
	ents, err := e.Store.LoadMultiple(ctx, domain.TypeProcess)
	if err != nil {
		return nil, e.upstream("loading Process list", err)
	}
	list := make([]*domain.Process, 0, len(ents))
	for _, ent := range ents {
		if p, ok := ent.(*domain.Process); ok {
			list = append(list, p)
		}
	}
	return list, nil
}
