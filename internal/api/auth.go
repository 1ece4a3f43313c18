// Package api implements the HTTP surface of the carrier planning service.
package api

import (
    "net/http"
    "strings"
)

type Principal struct {
	Tenant string
	Role   string // admin, dispatcher, viewer
}

// getPrincipal extracts tenant and role from a bearer token or, in dev mode,
// from headers. An hmac-mode request without a valid token has no tenant.
func (s *Server) getPrincipal(r *http.Request) Principal {
    authz := r.Header.Get("Authorization")
    if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
        tok := strings.TrimSpace(authz[len("Bearer "):])
        pr, err := s.Auth.Verify(tok)
        if err == nil {
            return Principal{Tenant: pr.Tenant, Role: pr.Role}
        }
        s.log.Debugf("[api] rejected token: %v", err)
    }
    if s.Auth != nil && s.Auth.Mode != "dev" {
        return Principal{}
    }
    tenant := r.Header.Get("X-Tenant-Id")
    role := strings.ToLower(r.Header.Get("X-Role"))
    if tenant == "" {
        tenant = "t_demo"
    }
    if role == "" {
        role = "admin"
    }
    return Principal{Tenant: tenant, Role: role}
}

// principal resolves the caller and answers 401 when there is none.
func (s *Server) principal(w http.ResponseWriter, r *http.Request) (Principal, bool) {
    p := s.getPrincipal(r)
    if p.Tenant == "" {
        writeProblem(w, http.StatusUnauthorized, "Unauthorized", "valid bearer token required", r.URL.Path)
        return p, false
    }
    return p, true
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

// CanPlan reports whether the principal may start plans and auctions.
func (p Principal) CanPlan() bool { return p.IsAdmin() || p.Role == "dispatcher" }
