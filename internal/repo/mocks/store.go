package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"decisionsupport/internal/domain"
	"decisionsupport/internal/repo"
)

// EntityStore is a mock for repo.EntityStore.
type EntityStore struct {
	mock.Mock
}

var _ repo.EntityStore = (*EntityStore)(nil)

func (m *EntityStore) LoadMultiple(ctx context.Context, entityType string) ([]domain.Entity, error) {
	args := m.Called(ctx, entityType)
	if list, ok := args.Get(0).([]domain.Entity); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *EntityStore) Load(ctx context.Context, entityType, id string) (domain.Entity, error) {
	args := m.Called(ctx, entityType, id)
	if e, ok := args.Get(0).(domain.Entity); ok {
		return e, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *EntityStore) Create(entityType string, values map[string]any) (domain.Entity, error) {
	args := m.Called(entityType, values)
	if e, ok := args.Get(0).(domain.Entity); ok {
		return e, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *EntityStore) Save(ctx context.Context, e domain.Entity) (domain.Entity, error) {
	args := m.Called(ctx, e)
	if saved, ok := args.Get(0).(domain.Entity); ok {
		return saved, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *EntityStore) Delete(ctx context.Context, e domain.Entity) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

// InTx records the call and, unless an error is configured, runs fn against the mock itself.
func (m *EntityStore) InTx(ctx context.Context, fn func(repo.EntityStore) error) error {
	args := m.Called(ctx)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(m)
}
