// Package api implements the HTTP surface of the recovery dispatch service.
package api

import (
    "net/http"
    "strings"

    "recoverydispatch/internal/auth"
)

const defaultTenant = "t_demo"

type Principal struct {
    Tenant  string
    Role    string // admin, dispatcher, viewer
    Subject string
}

// getPrincipal extracts tenant and role from a bearer token or headers.
// - If Authorization: Bearer is present, uses the configured verifier (dev/hmac).
// - Else falls back to X-Tenant-Id / X-Role headers, which only dev mode honours.
func (s *Server) getPrincipal(r *http.Request) Principal {
    authz := r.Header.Get("Authorization")
    if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
        tok := strings.TrimSpace(authz[len("Bearer "):])
        if pr, err := s.Auth.Verify(tok); err == nil {
            return Principal{Tenant: normalizeTenantID(pr.Tenant), Role: pr.Role, Subject: pr.Subject}
        }
        return Principal{}
    }
    if s.Auth != nil && s.Auth.Mode != auth.ModeDev { return Principal{} }
    tenant := r.Header.Get("X-Tenant-Id")
    role := strings.ToLower(r.Header.Get("X-Role"))
    if tenant == "" { tenant = defaultTenant }
    if role == "" { role = "admin" }
    return Principal{Tenant: normalizeTenantID(tenant), Role: role}
}

func normalizeTenantID(t string) string { return strings.TrimSpace(t) }

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

// CanDispatch reports whether the principal may run the optimizer and edit fleet inputs.
func (p Principal) CanDispatch() bool { return p.Role == "admin" || p.Role == "dispatcher" }

// Authenticated reports whether a tenant was resolved.
func (p Principal) Authenticated() bool { return p.Tenant != "" }

// requireDispatcher writes 401/403 and returns false when p cannot dispatch.
func requireDispatcher(w http.ResponseWriter, r *http.Request, p Principal) bool {
    if !p.Authenticated() { writeProblem(w, http.StatusUnauthorized, "Unauthorized", "valid bearer token required", r.URL.Path); return false }
    if !p.CanDispatch() { writeProblem(w, http.StatusForbidden, "Forbidden", "dispatcher or admin required", r.URL.Path); return false }
    return true
}

func requireAdmin(w http.ResponseWriter, r *http.Request, p Principal) bool {
    if !p.Authenticated() { writeProblem(w, http.StatusUnauthorized, "Unauthorized", "valid bearer token required", r.URL.Path); return false }
    if !p.IsAdmin() { writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path); return false }
    return true
}

func requireTenant(w http.ResponseWriter, r *http.Request, p Principal) bool {
    if !p.Authenticated() { writeProblem(w, http.StatusUnauthorized, "Unauthorized", "valid bearer token required", r.URL.Path); return false }
    return true
}
