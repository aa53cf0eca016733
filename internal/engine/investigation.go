package engine

import (
	"context"
	"errors"

	"decisionsupport/internal/domain"
	"decisionsupport/internal/repo"
)

func (e Engine) loadInvestigation(ctx context.Context, id string) (*domain.Investigation, error) {
	ent, err := e.load(ctx, domain.TypeInvestigation, kindInvestigation, id)
	if err != nil {
		return nil, err
	}
	inv, ok := ent.(*domain.Investigation)
	if !ok {
		return nil, NotFoundError{Kind: kindInvestigation, ID: id}
	}
	return inv, nil
}

// CreateInvestigation stores a new investigation whose payload is data encoded as JSON.
func (e Engine) CreateInvestigation(ctx context.Context, data map[string]any) (*domain.Investigation, error) {
	ent, err := e.Store.Create(domain.TypeInvestigation, data)
	if err != nil {
		return nil, invalidInput("%v", err)
	}
	inv, ok := ent.(*domain.Investigation)
	if !ok {
		return nil, e.upstream("creating Investigation", errors.New("store returned a different entity type"))
	}
	payload, err := encodePayload(data)
	if err != nil {
		return nil, e.upstream("creating Investigation", err)
	}
	inv.JSONString = payload
	if _, err := e.Store.Save(ctx, inv); err != nil {
		return nil, e.upstream("creating Investigation", err)
	}
	e.logger().Info("Created new Investigation entity", "id", inv.ID)
	return inv, nil
}

func (e Engine) GetInvestigation(ctx context.Context, id string) (string, error) {
	inv, err := e.loadInvestigation(ctx, id)
	if err != nil {
		return "", err
	}
	return inv.JSONString, nil
}

// UpdateInvestigation replaces the payload of an investigation with data encoded as JSON.
func (e Engine) UpdateInvestigation(ctx context.Context, id string, data map[string]any) (*domain.Investigation, error) {
	inv, err := e.loadInvestigation(ctx, id)
	if err != nil {
		return nil, err
	}
	payload, err := encodePayload(data)
	if err != nil {
		return nil, e.upstream("updating Investigation", err)
	}
	inv.JSONString = payload
	if _, err := e.Store.Save(ctx, inv); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, NotFoundError{Kind: kindInvestigation, ID: id}
		}
		return nil, e.upstream("updating Investigation", err)
	}
	e.logger().Info("The Investigation has been updated", "id", id)
	return inv, nil
}
