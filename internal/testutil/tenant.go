// Package testutil contains helpers shared by tests: an in-memory
// Management API server and a git repository builder.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/Giving-What-We-Can/auth0-rules/internal/auth0"
)

// Tenant is a fake Management API backed by in-memory collections.
// Fields may be set directly before the first request.
type Tenant struct {
	mu sync.Mutex

	Roles         []auth0.Role
	Clients       []auth0.Application
	Connections   []auth0.Connection
	Rules         []auth0.Rule
	LoginTemplate string

	// FailPath makes every request to that path fail with status 500.
	FailPath string

	// Requests records "METHOD /path?query" for every request received.
	Requests []string

	nextID int
}

// NewTenant starts a fake tenant server that is closed when the test ends.
// The returned Config points at it.
func NewTenant(t *testing.T) (*Tenant, auth0.Config) {
	t.Helper()
	ft := &Tenant{}
	srv := httptest.NewServer(ft.handler())
	t.Cleanup(srv.Close)
	return ft, auth0.Config{Domain: srv.URL}
}

// Client returns an API client talking to the fake tenant.
func (f *Tenant) Client(t *testing.T, cfg auth0.Config) *auth0.Client {
	t.Helper()
	cfg.ClientID, cfg.ClientSecret = "test-client", "test-secret"
	cfg.NoRetries = true
	c, err := auth0.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("auth0.New: %v", err)
	}
	return c
}

// RequestCount returns how many requests were made to method+path, ignoring the query.
func (f *Tenant) RequestCount(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	prefix := method + " " + path
	for _, r := range f.Requests {
		if r == prefix || (len(r) > len(prefix) && r[:len(prefix)+1] == prefix+"?") {
			n++
		}
	}
	return n
}

func (f *Tenant) handler() http.Handler {
	mux := http.NewServeMux()
	// Client-credentials grant; any credentials are accepted.
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"access_token": "test-token", "token_type": "Bearer", "expires_in": 86400})
	})
	mux.HandleFunc("GET /api/v2/roles", func(w http.ResponseWriter, r *http.Request) {
		writePage(w, r, f.Roles)
	})
	mux.HandleFunc("GET /api/v2/clients", func(w http.ResponseWriter, r *http.Request) {
		writePage(w, r, f.Clients)
	})
	mux.HandleFunc("GET /api/v2/connections", func(w http.ResponseWriter, r *http.Request) {
		writePage(w, r, f.Connections)
	})
	mux.HandleFunc("GET /api/v2/rules", func(w http.ResponseWriter, r *http.Request) {
		writePage(w, r, f.Rules)
	})
	mux.HandleFunc("POST /api/v2/rules", f.createRule)
	mux.HandleFunc("PATCH /api/v2/rules/{id}", f.updateRule)
	mux.HandleFunc("PATCH /api/v2/connections/{id}", f.updateConnection)
	mux.HandleFunc("GET /api/v2/branding/templates/universal-login", func(w http.ResponseWriter, r *http.Request) {
		if f.LoginTemplate == "" {
			writeError(w, http.StatusNotFound, "no template")
			return
		}
		writeJSON(w, map[string]string{"body": f.LoginTemplate})
	})
	mux.HandleFunc("PUT /api/v2/branding/templates/universal-login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Template string `json:"template"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.LoginTemplate = body.Template
		w.WriteHeader(http.StatusNoContent)
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		req := r.Method + " " + r.URL.Path
		if r.URL.RawQuery != "" {
			req += "?" + r.URL.RawQuery
		}
		f.Requests = append(f.Requests, req)
		if f.FailPath != "" && r.URL.Path == f.FailPath {
			writeError(w, http.StatusInternalServerError, "injected failure")
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func (f *Tenant) createRule(w http.ResponseWriter, r *http.Request) {
	var rule auth0.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.nextID++
	rule.ID = fmt.Sprintf("rul_%d", f.nextID)
	f.Rules = append(f.Rules, rule)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, rule)
}

func (f *Tenant) updateRule(w http.ResponseWriter, r *http.Request) {
	var upd auth0.RuleUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := r.PathValue("id")
	for i := range f.Rules {
		if f.Rules[i].ID != id {
			continue
		}
		if upd.Name != "" {
			f.Rules[i].Name = upd.Name
		}
		if upd.Script != "" {
			f.Rules[i].Script = upd.Script
		}
		if upd.Order != nil {
			f.Rules[i].Order = *upd.Order
		}
		if upd.Enabled != nil {
			f.Rules[i].Enabled = *upd.Enabled
		}
		writeJSON(w, f.Rules[i])
		return
	}
	writeError(w, http.StatusNotFound, "rule not found")
}

func (f *Tenant) updateConnection(w http.ResponseWriter, r *http.Request) {
	var upd auth0.ConnectionUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := r.PathValue("id")
	for i := range f.Connections {
		if f.Connections[i].ID == id {
			f.Connections[i].Options = upd.Options
			writeJSON(w, f.Connections[i])
			return
		}
	}
	writeError(w, http.StatusNotFound, "connection not found")
}

func writePage[T any](w http.ResponseWriter, r *http.Request, items []T) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid page")
		return
	}
	perPage, err := strconv.Atoi(r.URL.Query().Get("per_page"))
	if err != nil || perPage <= 0 {
		writeError(w, http.StatusBadRequest, "invalid per_page")
		return
	}
	start := min(page*perPage, len(items))
	end := min(start+perPage, len(items))
	result := items[start:end]
	if result == nil {
		result = []T{}
	}
	writeJSON(w, result)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"statusCode": status, "message": msg})
}
