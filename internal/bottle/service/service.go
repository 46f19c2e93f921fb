package service

import (
	"context"
	"errors"
	"time"

	"dosegate/internal/bottle/models"
	id "dosegate/pkg/domain"
	dErrors "dosegate/pkg/domain-errors"
	"dosegate/pkg/platform/sentinel"
)

// Store persists dispensed units.
type Store interface {
	FindByCode(ctx context.Context, codePayload string) (*models.DispensedUnit, error)
	FindByID(ctx context.Context, unitID id.UnitID) (*models.DispensedUnit, error)
	Consume(ctx context.Context, unitID id.UnitID, at time.Time) error
}

// Registry resolves scanned codes to dispensed units and owns the single
// mutation the core performs on them: the consumed transition.
type Registry struct {
	store Store
}

func New(store Store) *Registry {
	return &Registry{store: store}
}

// Resolve looks up a scanned payload. The payload is opaque; no structure is
// parsed here.
func (r *Registry) Resolve(ctx context.Context, codePayload string) (*models.DispensedUnit, error) {
	if codePayload == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "code payload is required")
	}
	unit, err := r.store.FindByCode(ctx, codePayload)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnknownCode, "scanned code does not resolve to a dispensed unit")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve code")
	}
	return unit, nil
}

// Consume marks the unit consumed exactly once. A replay surfaces as
// UnitAlreadyConsumed; concurrency is resolved by the store's compare-and-set.
func (r *Registry) Consume(ctx context.Context, unitID id.UnitID, at time.Time) error {
	if err := r.store.Consume(ctx, unitID, at); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrAlreadyUsed):
			return dErrors.New(dErrors.CodeUnitAlreadyConsumed, "dispensed unit already consumed")
		case errors.Is(err, sentinel.ErrNotFound):
			return dErrors.New(dErrors.CodeUnknownCode, "dispensed unit not found")
		default:
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume unit")
		}
	}
	return nil
}
