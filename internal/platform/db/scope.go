package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hbys/hbys/internal/tenancy"
)

// TenantOwned is implemented by entities whose rows carry a tenant_id.
type TenantOwned interface {
	OwnerTenantID() uuid.UUID
	AssignTenant(id uuid.UUID)
}

// Scope confines repository access to one tenant.
type Scope struct {
	tenantID uuid.UUID
}

// NewScope returns a scope for tenantID.
func NewScope(tenantID uuid.UUID) Scope {
	return Scope{tenantID: tenantID}
}

// ScopeFromContext builds a Scope from the tenant bound to ctx. It fails with
// tenancy.ErrMissingTenantContext when no tenant is bound.
func ScopeFromContext(ctx context.Context) (Scope, error) {
	id, ok := tenancy.IDFromContext(ctx)
	if !ok {
		return Scope{}, tenancy.ErrMissingTenantContext
	}
	return Scope{tenantID: id}, nil
}

func (s Scope) TenantID() uuid.UUID { return s.tenantID }

// Stamp assigns the scope's tenant to a new entity. An entity already owned by
// another tenant is refused.
func (s Scope) Stamp(e TenantOwned) error {
	owner := e.OwnerTenantID()
	if owner != uuid.Nil && owner != s.tenantID {
		return ErrTenantMismatch
	}
	e.AssignTenant(s.tenantID)
	return nil
}

// Owns returns ErrNotFound unless e belongs to the scope's tenant.
func (s Scope) Owns(e TenantOwned) error {
	if e == nil || e.OwnerTenantID() != s.tenantID {
		return ErrNotFound
	}
	return nil
}

// Filter returns a predicate builder preloaded with the tenant condition.
func (s Scope) Filter() *Filter {
	return s.Where(NewFilter())
}

// Where appends the tenant condition to f.
func (s Scope) Where(f *Filter) *Filter {
	return f.And("tenant_id = ?", s.tenantID)
}

// Filter builds a WHERE clause with numbered placeholders.
type Filter struct {
	conds []string
	args  []any
}

func NewFilter() *Filter {
	return &Filter{}
}

// And adds a condition. Each ? in expr is replaced by the next placeholder
// and consumes one of args, in order.
func (f *Filter) And(expr string, args ...any) *Filter {
	if n := strings.Count(expr, "?"); n != len(args) {
		panic(fmt.Sprintf("db: filter %q has %d placeholders, got %d args", expr, n, len(args)))
	}
	var b strings.Builder
	i := 0
	for _, r := range expr {
		if r == '?' {
			f.args = append(f.args, args[i])
			i++
			fmt.Fprintf(&b, "$%d", len(f.args))
			continue
		}
		b.WriteRune(r)
	}
	f.conds = append(f.conds, b.String())
	return f
}

// Arg appends a bare argument, for LIMIT/OFFSET and SET lists, and returns its placeholder.
func (f *Filter) Arg(v any) string {
	f.args = append(f.args, v)
	return fmt.Sprintf("$%d", len(f.args))
}

// SQL returns the conditions joined with AND, or "TRUE" when empty.
func (f *Filter) SQL() string {
	if len(f.conds) == 0 {
		return "TRUE"
	}
	return strings.Join(f.conds, " AND ")
}

func (f *Filter) Args() []any {
	out := make([]any, len(f.args))
	copy(out, f.args)
	return out
}
