package rbac

import (
	"fmt"
	"time"
)

// Wildcard stands in for any resource or any action in a permission pair.
const Wildcard = "*"

// RoleClass is the coarse role category used for hierarchy ranking.
type RoleClass string

// Known role classes, ordered by rank in roleClassRanks.
const (
	RoleClassPlatformAdmin RoleClass = "platform_admin"
	RoleClassPlatformStaff RoleClass = "platform_staff"
	RoleClassTenantOwner   RoleClass = "tenant_owner"
	RoleClassEntityManager RoleClass = "entity_manager"
	RoleClassEntityStaff   RoleClass = "entity_staff"
	RoleClassCustom        RoleClass = "custom"
)

var roleClassRanks = map[RoleClass]int{
	RoleClassCustom:        0,
	RoleClassEntityStaff:   1,
	RoleClassEntityManager: 2,
	RoleClassTenantOwner:   3,
	RoleClassPlatformStaff: 4,
	RoleClassPlatformAdmin: 5,
}

// Rank maps the class to its position in the management hierarchy.
// Unknown classes rank alongside custom roles.
func (c RoleClass) Rank() int {
	return roleClassRanks[c]
}

// Valid reports whether the class is one of the known kinds.
func (c RoleClass) Valid() bool {
	_, ok := roleClassRanks[c]
	return ok
}

// ScopeType identifies the kind of entity a role can be confined to.
type ScopeType string

// Entity kinds roles can be scoped to.
const (
	ScopeShop    ScopeType = "shop"
	ScopeCompany ScopeType = "company"
)

// Valid reports whether the scope type is recognised.
func (t ScopeType) Valid() bool {
	return t == ScopeShop || t == ScopeCompany
}

// EntityScope confines a role's grants to a single owning entity.
// A nil *EntityScope means the role is global.
type EntityScope struct {
	Type ScopeType
	ID   int64
}

func (s EntityScope) String() string {
	return fmt.Sprintf("%s:%d", s.Type, s.ID)
}

// Equal compares two optional scopes; two nils are equal.
func (s *EntityScope) Equal(other *EntityScope) bool {
	if s == nil || other == nil {
		return s == nil && other == nil
	}
	return s.Type == other.Type && s.ID == other.ID
}

// scopeKey renders an optional scope for cache keys and log fields.
func scopeKey(s *EntityScope) string {
	if s == nil {
		return "global"
	}
	return s.String()
}

// Permission represents an atomic (resource, action) capability.
type Permission struct {
	ID          int64  `json:"id"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

// PermissionCode derives the unique code for a (resource, action) pair.
// Wildcard sides render as "all" and mark the code with a _wildcard suffix.
func PermissionCode(resource, action string) string {
	r, a := resource, action
	wildcard := r == Wildcard || a == Wildcard
	if r == Wildcard {
		r = "all"
	}
	if a == Wildcard {
		a = "all"
	}
	code := r + "_" + a
	if wildcard {
		code += "_wildcard"
	}
	return code
}

// Role represents a named permission grouping, optionally entity-scoped
// and optionally inheriting from a parent role.
type Role struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Class       RoleClass    `json:"class"`
	Weight      int          `json:"weight"`
	IsActive    bool         `json:"is_active"`
	IsSystem    bool         `json:"is_system"`
	Scope       *EntityScope `json:"scope,omitempty"`
	ParentID    *int64       `json:"parent_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// UserRole links a user to a role.
type UserRole struct {
	UserID     int64     `json:"user_id"`
	RoleID     int64     `json:"role_id"`
	IsPrimary  bool      `json:"is_primary"`
	AssignedAt time.Time `json:"assigned_at"`
	AssignedBy *int64    `json:"assigned_by,omitempty"`
}

// AssignedRole is an assignment joined with its role.
type AssignedRole struct {
	UserRole
	Role Role `json:"role"`
}

// UserFlags carries the per-principal switches the resolver needs.
type UserFlags struct {
	IsActive    bool
	IsSuperUser bool
}

// Permission-change kinds recorded in the audit trail.
const (
	ChangeAdd    = "add"
	ChangeRemove = "remove"
)

// PermissionChange is one append-only audit record of a role's
// permission set changing.
type PermissionChange struct {
	RoleID       int64
	PermissionID int64
	Change       string
	PerformedBy  *int64
	OccurredAt   time.Time
}
