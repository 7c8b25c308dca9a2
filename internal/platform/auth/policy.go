package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Modules guarded by the authorization policy.
const (
	ModuleEncounters = "encounters"
	ModuleResources  = "resources"
	ModuleAdmissions = "admissions"
)

// Action is a mutating operation on a module.
type Action string

const (
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// Authorizer answers canCreate/canEdit/canDelete per module for the caller
// carried in ctx. Command handlers receive one instead of reading a global
// permission store.
type Authorizer interface {
	CanCreate(ctx context.Context, module string) bool
	CanEdit(ctx context.Context, module string) bool
	CanDelete(ctx context.Context, module string) bool
}

// RolePolicy grants actions per module to roles found in the request context.
// The "admin" role is granted everything.
type RolePolicy struct {
	grants map[string]map[string][]Action
}

// NewRolePolicy builds a policy from role -> module -> actions.
func NewRolePolicy(grants map[string]map[string][]Action) *RolePolicy {
	return &RolePolicy{grants: grants}
}

// DefaultRolePolicy reflects the front desk, triage and ward workflows.
func DefaultRolePolicy() *RolePolicy {
	return NewRolePolicy(map[string]map[string][]Action{
		"physician": {
			ModuleEncounters: {ActionCreate, ActionEdit},
			ModuleAdmissions: {ActionCreate, ActionEdit},
		},
		"nurse": {
			ModuleEncounters: {ActionCreate, ActionEdit},
			ModuleResources:  {ActionEdit},
			ModuleAdmissions: {ActionCreate, ActionEdit},
		},
		"front_desk": {
			ModuleEncounters: {ActionCreate, ActionEdit},
		},
		"housekeeping": {
			ModuleResources: {ActionEdit},
		},
		"bed_manager": {
			ModuleResources:  {ActionCreate, ActionEdit, ActionDelete},
			ModuleAdmissions: {ActionEdit},
		},
	})
}

func (p *RolePolicy) CanCreate(ctx context.Context, module string) bool {
	return p.allowed(ctx, module, ActionCreate)
}

func (p *RolePolicy) CanEdit(ctx context.Context, module string) bool {
	return p.allowed(ctx, module, ActionEdit)
}

func (p *RolePolicy) CanDelete(ctx context.Context, module string) bool {
	return p.allowed(ctx, module, ActionDelete)
}

func (p *RolePolicy) allowed(ctx context.Context, module string, action Action) bool {
	for _, role := range RolesFromContext(ctx) {
		if role == "admin" {
			return true
		}
		for _, a := range p.grants[role][module] {
			if a == action {
				return true
			}
		}
	}
	return false
}

// AllowAll grants every action. Used in development mode and tests.
type AllowAll struct{}

func (AllowAll) CanCreate(context.Context, string) bool { return true }
func (AllowAll) CanEdit(context.Context, string) bool   { return true }
func (AllowAll) CanDelete(context.Context, string) bool { return true }

// Require returns middleware that rejects the request unless authz permits
// action on module.
func Require(authz Authorizer, module string, action Action) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			var ok bool
			switch action {
			case ActionCreate:
				ok = authz.CanCreate(ctx, module)
			case ActionEdit:
				ok = authz.CanEdit(ctx, module)
			case ActionDelete:
				ok = authz.CanDelete(ctx, module)
			}
			if !ok {
				return echo.NewHTTPError(http.StatusForbidden,
					fmt.Sprintf("not permitted to %s %s", action, module))
			}
			return next(c)
		}
	}
}
