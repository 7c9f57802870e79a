package tenancy

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Identity is the tenant a request is bound to.
type Identity struct {
	ID   uuid.UUID `json:"tenant_id"`
	Code string    `json:"tenant_code"`
}

// Accessor is the read surface handed to handlers, services and repositories.
type Accessor interface {
	TenantID() (uuid.UUID, bool)
	TenantCode() (string, bool)
}

// Slot is the per-request container for the resolved tenant. One slot is
// created per request by the pipeline and never shared between requests.
type Slot struct {
	mu      sync.RWMutex
	id      Identity
	bound   bool
	outcome Outcome
}

// Set binds the slot to a tenant. It succeeds at most once until Clear.
func (s *Slot) Set(id uuid.UUID, code string) error {
	if id == uuid.Nil || code == "" {
		return ErrInvalidIdentity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound {
		return ErrTenantAlreadyBound
	}
	s.id = Identity{ID: id, Code: code}
	s.bound = true
	return nil
}

// Clear empties the slot.
func (s *Slot) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = Identity{}
	s.bound = false
	s.outcome = ""
}

func (s *Slot) TenantID() (uuid.UUID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id.ID, s.bound
}

func (s *Slot) TenantCode() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id.Code, s.bound
}

// Identity returns a copy of the bound identity.
func (s *Slot) Identity() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id, s.bound
}

// Outcome reports how the resolver treated this request.
func (s *Slot) Outcome() Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outcome
}

func (s *Slot) setOutcome(o Outcome) {
	s.mu.Lock()
	s.outcome = o
	s.mu.Unlock()
}

type slotKey struct{}

// NewContext returns a child context carrying a fresh, empty slot.
func NewContext(ctx context.Context) (context.Context, *Slot) {
	s := &Slot{}
	return context.WithValue(ctx, slotKey{}, s), s
}

// WithIdentity returns a child context whose slot is already bound to id.
// Used outside the HTTP pipeline (CLI commands, tests).
func WithIdentity(ctx context.Context, id Identity) (context.Context, error) {
	ctx, s := NewContext(ctx)
	if err := s.Set(id.ID, id.Code); err != nil {
		return nil, err
	}
	return ctx, nil
}

// SlotFromContext returns the request slot, or nil when none was attached.
func SlotFromContext(ctx context.Context) *Slot {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(slotKey{}).(*Slot)
	return s
}

type emptyAccessor struct{}

func (emptyAccessor) TenantID() (uuid.UUID, bool) { return uuid.Nil, false }
func (emptyAccessor) TenantCode() (string, bool)  { return "", false }

// FromContext always returns a usable accessor; it reports no tenant when the
// context carries no slot.
func FromContext(ctx context.Context) Accessor {
	if s := SlotFromContext(ctx); s != nil {
		return s
	}
	return emptyAccessor{}
}

// IDFromContext is shorthand for FromContext(ctx).TenantID().
func IDFromContext(ctx context.Context) (uuid.UUID, bool) {
	return FromContext(ctx).TenantID()
}

// Require returns the bound identity or ErrMissingTenantContext.
func Require(ctx context.Context) (Identity, error) {
	s := SlotFromContext(ctx)
	if s == nil {
		return Identity{}, ErrMissingTenantContext
	}
	id, ok := s.Identity()
	if !ok {
		return Identity{}, ErrMissingTenantContext
	}
	return id, nil
}

// OutcomeFromContext returns the resolver outcome recorded for the request.
func OutcomeFromContext(ctx context.Context) Outcome {
	if s := SlotFromContext(ctx); s != nil {
		return s.Outcome()
	}
	return ""
}
