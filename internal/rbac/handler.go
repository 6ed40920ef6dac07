package rbac

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Handler exposes the administrative JSON API for roles, permissions and
// assignments. Every mutating route runs a CanManage check on top of the
// permission guard.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	catalog  *Catalog
	resolver *Resolver
	validate *validator.Validate
	mw       Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, catalog *Catalog, resolver *Resolver, mw Middleware) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		catalog:  catalog,
		resolver: resolver,
		validate: validator.New(),
		mw:       mw,
	}
}

// MountPermissionRoutes registers catalog routes.
func (h *Handler) MountPermissionRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequirePermission(ResourcePermissions, ActionView))
		r.Get("/", h.listPermissions)
	})
}

// MountRoleRoutes registers role management routes.
func (h *Handler) MountRoleRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequirePermission(ResourceRoles, ActionView))
		r.Get("/", h.listRoles)
		r.Get("/{roleID}", h.getRole)
		r.Get("/{roleID}/permissions", h.rolePermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequirePermission(ResourceRoles, ActionManage))
		r.Post("/", h.createRole)
		r.Delete("/{roleID}", h.deleteRole)
		r.Put("/{roleID}/permissions", h.replacePermissions)
		r.Put("/{roleID}/parent", h.setParent)
		r.Post("/{roleID}/clone", h.cloneRole)
		r.Post("/{roleID}/transfer", h.transferUsers)
	})
}

// MountUserRoutes registers assignment routes under /users.
func (h *Handler) MountUserRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequirePermission(ResourceUsers, ActionView))
		r.Get("/{userID}/roles", h.userRoles)
		r.Get("/{userID}/permissions", h.userPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequirePermission(ResourceRoles, ActionManage))
		r.Post("/{userID}/roles", h.assignRole)
		r.Delete("/{userID}/roles/{roleID}", h.revokeRole)
	})
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.catalog.ListPermissions(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.roleFromParam(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, role)
}

func (h *Handler) rolePermissions(w http.ResponseWriter, r *http.Request) {
	role, err := h.roleFromParam(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	perms, err := h.service.RolePermissions(r.Context(), role.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"role_id": role.ID, "permissions": perms})
}

type createRoleRequest struct {
	Name          string  `json:"name" validate:"required"`
	Description   string  `json:"description"`
	Weight        int     `json:"weight"`
	PermissionIDs []int64 `json:"permission_ids"`
	ScopeType     string  `json:"scope_type" validate:"omitempty,oneof=shop company"`
	ScopeID       int64   `json:"scope_id"`
	ParentID      *int64  `json:"parent_id"`
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.mw.CurrentUserID(r)
	if !ok {
		deny(w)
		return
	}
	var req createRoleRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	scope, err := scopeFromRequest(req.ScopeType, req.ScopeID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	// Creating a role is managing it: the actor must be able to manage a
	// custom role in the requested scope.
	allowed, err := h.service.CanManage(r.Context(), actorID, Role{Class: RoleClassCustom, Scope: scope})
	if err != nil {
		h.respondError(w, err)
		return
	}
	if !allowed {
		deny(w)
		return
	}

	role, err := h.service.CreateCustomRole(r.Context(), CustomRoleSpec{
		Name:          req.Name,
		Description:   req.Description,
		Weight:        req.Weight,
		PermissionIDs: req.PermissionIDs,
		Scope:         scope,
		ParentID:      req.ParentID,
		PerformedBy:   &actorID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	role, _, ok := h.manageableRole(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteRole(r.Context(), role.ID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type replacePermissionsRequest struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"required"`
}

func (h *Handler) replacePermissions(w http.ResponseWriter, r *http.Request) {
	role, actorID, ok := h.manageableRole(w, r)
	if !ok {
		return
	}
	var req replacePermissionsRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.service.ReplacePermissions(r.Context(), role.ID, req.PermissionIDs, &actorID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setParentRequest struct {
	ParentID *int64 `json:"parent_id"`
}

func (h *Handler) setParent(w http.ResponseWriter, r *http.Request) {
	role, _, ok := h.manageableRole(w, r)
	if !ok {
		return
	}
	var req setParentRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	updated, err := h.service.SetRoleParent(r.Context(), role.ID, req.ParentID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, updated)
}

type cloneRoleRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

func (h *Handler) cloneRole(w http.ResponseWriter, r *http.Request) {
	role, actorID, ok := h.manageableRole(w, r)
	if !ok {
		return
	}
	var req cloneRoleRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	clone, err := h.service.CloneRole(r.Context(), role.ID, req.Name, req.Description, &actorID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, clone)
}

type transferUsersRequest struct {
	ToRoleID int64 `json:"to_role_id" validate:"required"`
}

func (h *Handler) transferUsers(w http.ResponseWriter, r *http.Request) {
	fromRole, actorID, ok := h.manageableRole(w, r)
	if !ok {
		return
	}
	var req transferUsersRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	toRole, err := h.service.GetRole(r.Context(), req.ToRoleID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	allowed, err := h.service.CanManage(r.Context(), actorID, toRole)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if !allowed {
		deny(w)
		return
	}
	moved, err := h.service.TransferUsers(r.Context(), fromRole.ID, toRole.ID, &actorID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"moved": moved})
}

type assignRoleRequest struct {
	RoleID  int64 `json:"role_id" validate:"required"`
	Primary bool  `json:"primary"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.mw.CurrentUserID(r)
	if !ok {
		deny(w)
		return
	}
	userID, err := int64Param(r, "userID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	var req assignRoleRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	role, err := h.service.GetRole(r.Context(), req.RoleID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	allowed, err := h.service.CanManage(r.Context(), actorID, role)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if !allowed {
		deny(w)
		return
	}
	assignment, err := h.service.Assign(r.Context(), userID, role.ID, &actorID, req.Primary)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, assignment)
}

func (h *Handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.mw.CurrentUserID(r)
	if !ok {
		deny(w)
		return
	}
	userID, err := int64Param(r, "userID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	roleID, err := int64Param(r, "roleID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	role, err := h.service.GetRole(r.Context(), roleID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	allowed, err := h.service.CanManage(r.Context(), actorID, role)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if !allowed {
		deny(w)
		return
	}
	removed, err := h.service.Revoke(r.Context(), userID, roleID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if !removed {
		h.respondError(w, ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) userRoles(w http.ResponseWriter, r *http.Request) {
	userID, err := int64Param(r, "userID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	roles, err := h.service.RolesFor(r.Context(), userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"assignments": roles})
}

func (h *Handler) userPermissions(w http.ResponseWriter, r *http.Request) {
	userID, err := int64Param(r, "userID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	scope, err := scopeFromRequest(r.URL.Query().Get("scope_type"), queryInt64(r, "scope_id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	perms, err := h.resolver.EffectivePermissions(r.Context(), userID, scope)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"user_id": userID, "permissions": perms})
}

// manageableRole loads the {roleID} route target and enforces CanManage.
func (h *Handler) manageableRole(w http.ResponseWriter, r *http.Request) (Role, int64, bool) {
	actorID, ok := h.mw.CurrentUserID(r)
	if !ok {
		deny(w)
		return Role{}, 0, false
	}
	role, err := h.roleFromParam(r)
	if err != nil {
		h.respondError(w, err)
		return Role{}, 0, false
	}
	allowed, err := h.service.CanManage(r.Context(), actorID, role)
	if err != nil {
		h.respondError(w, err)
		return Role{}, 0, false
	}
	if !allowed {
		deny(w)
		return Role{}, 0, false
	}
	return role, actorID, true
}

func (h *Handler) roleFromParam(r *http.Request) (Role, error) {
	id, err := int64Param(r, "roleID")
	if err != nil {
		return Role{}, err
	}
	return h.service.GetRole(r.Context(), id)
}

func int64Param(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, validationf(name, "invalid identifier")
	}
	return id, nil
}

func queryInt64(r *http.Request, name string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return v
}

// scopeFromRequest applies the pairing rule: both fields present together
// or both absent.
func scopeFromRequest(scopeType string, scopeID int64) (*EntityScope, error) {
	if scopeType == "" && scopeID == 0 {
		return nil, nil
	}
	if scopeType == "" || scopeID == 0 {
		return nil, validationf("scope", "scope_type and scope_id must be provided together")
	}
	st := ScopeType(scopeType)
	if !st.Valid() {
		return nil, validationf("scope", "unknown scope type %q", scopeType)
	}
	return &EntityScope{Type: st, ID: scopeID}, nil
}

func (h *Handler) decode(r *http.Request, dest any) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return validationf("body", "malformed JSON")
	}
	if err := h.validate.Struct(dest); err != nil {
		return validationf("body", "%s", err.Error())
	}
	return nil
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encode response", slog.Any("error", err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		h.respondJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case IsValidation(err):
		h.respondJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	default:
		h.logger.Error("rbac handler", slog.Any("error", err))
		h.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
