// Package admin implements Latchflow's admin-facing HTTP surface: CRUD
// over bundles and recipients, and the permission simulator admins use to
// dry-run a rule set before assigning it.
package admin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/latchflow/core/pkg/authz"
	"github.com/latchflow/core/pkg/changelog"
	"github.com/latchflow/core/pkg/httpapi"
	"github.com/latchflow/core/pkg/scheduler"
)

// Bundle is the admin-facing bundle resource.
type Bundle struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Recipient is the admin-facing recipient resource.
type Recipient struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Name  string   `json:"name,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

// Store is the persistence boundary Handlers reads/writes admin resources
// through. An external collaborator (the Postgres-backed admin data layer)
// implements it; Handlers only orchestrates validation, changelog writes,
// and IN_USE conflict checks.
type Store interface {
	ListBundles(ctx context.Context) ([]Bundle, error)
	GetBundle(ctx context.Context, id string) (*Bundle, error)
	CreateBundle(ctx context.Context, b Bundle) error
	UpdateBundle(ctx context.Context, b Bundle) error
	// DeleteBundle removes the bundle, returning ErrInUse if a pipeline or
	// assignment still references it (409 IN_USE contract).
	DeleteBundle(ctx context.Context, id string) error
	BundleIsReferenced(ctx context.Context, id string) (bool, error)

	ListRecipients(ctx context.Context) ([]Recipient, error)
	CreateRecipient(ctx context.Context, r Recipient) error
}

// ErrInUse signals a delete was rejected because the resource is still
// referenced elsewhere.
var ErrInUse = fmt.Errorf("admin: resource in use")

// Handlers adapts Store + authz.Engine + a changelog.Log into httpapi
// routes.
type Handlers struct {
	store     Store
	log       *changelog.Log
	authz     *authz.Engine
	scheduler *scheduler.Scheduler
}

// NewHandlers constructs Handlers. sched may be nil, in which case the
// build/build-status routes are not mounted (RegisterRoutes skips them).
func NewHandlers(store Store, log *changelog.Log, engine *authz.Engine, sched *scheduler.Scheduler) *Handlers {
	return &Handlers{store: store, log: log, authz: engine, scheduler: sched}
}

func adminActor(r *httpapi.Request) changelog.Actor {
	if u, ok := httpapi.Principal(r.Raw.Context()).(*httpapi.AdminUser); ok {
		return changelog.Actor{Type: changelog.ActorUser, UserID: u.ID}
	}
	return changelog.Actor{Type: changelog.ActorSystem}
}

// ListBundles handles GET /admin/bundles.
func (h *Handlers) ListBundles(r *httpapi.Request) (*httpapi.Response, error) {
	bundles, err := h.store.ListBundles(r.Raw.Context())
	if err != nil {
		return nil, fmt.Errorf("admin: list bundles: %w", err)
	}
	return httpapi.JSONResponse(http.StatusOK, map[string]interface{}{"bundles": bundles}), nil
}

// GetBundle handles GET /admin/bundles/{bundleId}.
func (h *Handlers) GetBundle(r *httpapi.Request) (*httpapi.Response, error) {
	b, err := h.store.GetBundle(r.Raw.Context(), r.Params["bundleId"])
	if err != nil {
		return nil, fmt.Errorf("admin: get bundle: %w", err)
	}
	if b == nil {
		return nil, httpapi.ErrNotFound
	}
	return httpapi.JSONResponse(http.StatusOK, b), nil
}

// CreateBundle handles POST /admin/bundles.
func (h *Handlers) CreateBundle(r *httpapi.Request) (*httpapi.Response, error) {
	var b Bundle
	if err := r.DecodeBody(&b); err != nil || b.ID == "" || b.Name == "" {
		return nil, httpapi.ErrBadRequest
	}
	b.UpdatedAt = time.Now()
	if err := h.store.CreateBundle(r.Raw.Context(), b); err != nil {
		return nil, fmt.Errorf("admin: create bundle: %w", err)
	}
	if _, err := h.log.Append("bundle", b.ID, adminActor(r), changelog.AppendOptions{ChangeKind: "create"}); err != nil {
		return nil, fmt.Errorf("admin: log bundle creation: %w", err)
	}
	return httpapi.JSONResponse(http.StatusCreated, b), nil
}

// UpdateBundle handles PATCH /admin/bundles/{bundleId}.
func (h *Handlers) UpdateBundle(r *httpapi.Request) (*httpapi.Response, error) {
	bundleID := r.Params["bundleId"]
	existing, err := h.store.GetBundle(r.Raw.Context(), bundleID)
	if err != nil {
		return nil, fmt.Errorf("admin: get bundle: %w", err)
	}
	if existing == nil {
		return nil, httpapi.ErrNotFound
	}
	var patch struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	if err := r.DecodeBody(&patch); err != nil {
		return nil, httpapi.ErrBadRequest
	}
	if patch.Name != nil {
		existing.Name = *patch.Name
	}
	if patch.Description != nil {
		existing.Description = *patch.Description
	}
	existing.UpdatedAt = time.Now()
	if err := h.store.UpdateBundle(r.Raw.Context(), *existing); err != nil {
		return nil, fmt.Errorf("admin: update bundle: %w", err)
	}
	if _, err := h.log.Append("bundle", bundleID, adminActor(r), changelog.AppendOptions{ChangeKind: "update"}); err != nil {
		return nil, fmt.Errorf("admin: log bundle update: %w", err)
	}
	return httpapi.JSONResponse(http.StatusOK, existing), nil
}

// DeleteBundle handles DELETE /admin/bundles/{bundleId}, rejecting with 409
// when a pipeline or assignment still references the bundle.
func (h *Handlers) DeleteBundle(r *httpapi.Request) (*httpapi.Response, error) {
	bundleID := r.Params["bundleId"]
	referenced, err := h.store.BundleIsReferenced(r.Raw.Context(), bundleID)
	if err != nil {
		return nil, fmt.Errorf("admin: check bundle references: %w", err)
	}
	if referenced {
		return nil, httpapi.NewError(http.StatusConflict, "IN_USE", "bundle is still referenced by a pipeline or assignment")
	}
	if err := h.store.DeleteBundle(r.Raw.Context(), bundleID); err != nil {
		return nil, fmt.Errorf("admin: delete bundle: %w", err)
	}
	if _, err := h.log.Append("bundle", bundleID, adminActor(r), changelog.AppendOptions{ChangeKind: "delete"}); err != nil {
		return nil, fmt.Errorf("admin: log bundle deletion: %w", err)
	}
	return httpapi.JSONResponse(http.StatusNoContent, nil), nil
}

// ListRecipients handles GET /admin/recipients.
func (h *Handlers) ListRecipients(r *httpapi.Request) (*httpapi.Response, error) {
	recipients, err := h.store.ListRecipients(r.Raw.Context())
	if err != nil {
		return nil, fmt.Errorf("admin: list recipients: %w", err)
	}
	return httpapi.JSONResponse(http.StatusOK, map[string]interface{}{"recipients": recipients}), nil
}

// CreateRecipient handles POST /admin/recipients.
func (h *Handlers) CreateRecipient(r *httpapi.Request) (*httpapi.Response, error) {
	var rec Recipient
	if err := r.DecodeBody(&rec); err != nil || rec.ID == "" || rec.Email == "" {
		return nil, httpapi.ErrBadRequest
	}
	if err := h.store.CreateRecipient(r.Raw.Context(), rec); err != nil {
		return nil, fmt.Errorf("admin: create recipient: %w", err)
	}
	if _, err := h.log.Append("recipient", rec.ID, adminActor(r), changelog.AppendOptions{ChangeKind: "create"}); err != nil {
		return nil, fmt.Errorf("admin: log recipient creation: %w", err)
	}
	return httpapi.JSONResponse(http.StatusCreated, rec), nil
}

// BuildBundle handles POST /admin/bundles/{bundleId}/build: schedules a
// debounced rebuild and returns immediately; the actual build happens
// asynchronously once the debounce window elapses.
func (h *Handlers) BuildBundle(r *httpapi.Request) (*httpapi.Response, error) {
	bundleID := r.Params["bundleId"]
	b, err := h.store.GetBundle(r.Raw.Context(), bundleID)
	if err != nil {
		return nil, fmt.Errorf("admin: get bundle: %w", err)
	}
	if b == nil {
		return nil, httpapi.ErrNotFound
	}
	var body struct {
		Force bool `json:"force"`
	}
	_ = r.DecodeBody(&body)
	h.scheduler.Schedule(bundleID, body.Force)
	return httpapi.JSONResponse(http.StatusAccepted, map[string]string{"status": "queued"}), nil
}

// BuildStatus handles GET /admin/bundles/{bundleId}/build/status: the
// scheduler's current state plus the bundle's current pointer fields.
func (h *Handlers) BuildStatus(r *httpapi.Request) (*httpapi.Response, error) {
	bundleID := r.Params["bundleId"]
	b, err := h.store.GetBundle(r.Raw.Context(), bundleID)
	if err != nil {
		return nil, fmt.Errorf("admin: get bundle: %w", err)
	}
	if b == nil {
		return nil, httpapi.ErrNotFound
	}
	status := h.scheduler.GetStatus(bundleID)
	body := map[string]interface{}{"state": status.State}
	if status.Last != nil {
		last := map[string]interface{}{"when": status.Last.When, "status": status.Last.Status}
		if status.Last.Error != nil {
			last["error"] = status.Last.Error.Error()
		}
		body["last"] = last
	}
	return httpapi.JSONResponse(http.StatusOK, body), nil
}

// SimulateRequest is the permission-simulate endpoint's input: a candidate
// rule set (rules.Rule-shaped entries) plus the request shape to evaluate
// it against.
type SimulateRequest struct {
	Rules    []map[string]interface{} `json:"rules"`
	Entry    authz.PolicyEntry        `json:"entry"`
	Snapshot authz.RequestSnapshot    `json:"snapshot"`
	User     SimulateUser             `json:"user"`
}

// SimulateUser is the subset of authz.User a simulation supplies inline,
// since the account the admin is testing against may not exist yet.
type SimulateUser struct {
	ID         string     `json:"id"`
	Role       authz.Role `json:"role"`
	IsActive   bool       `json:"isActive"`
	MFAEnabled bool       `json:"mfaEnabled"`
}

// Simulate handles POST /admin/permissions/simulate: dry-runs entry against
// the posted candidate rules without persisting anything, reusing
// authz.Engine.Authorize directly so a simulated decision can never diverge
// from the real gate's algorithm.
func (h *Handlers) Simulate(r *httpapi.Request) (*httpapi.Response, error) {
	var req SimulateRequest
	if err := r.DecodeBody(&req); err != nil {
		return nil, httpapi.ErrBadRequest
	}
	direct := make([]interface{}, len(req.Rules))
	for i, rule := range req.Rules {
		direct[i] = rule
	}
	user := &authz.User{
		ID:                req.User.ID,
		Role:              req.User.Role,
		IsActive:          req.User.IsActive,
		MFAEnabled:        req.User.MFAEnabled,
		DirectPermissions: direct,
	}
	result := h.authz.Authorize(r.Raw.Context(), &req.Entry, &req.Snapshot, user, authz.Context{
		UserID:          req.User.ID,
		Mode:            authz.ModeEnforce,
		Now:             time.Now(),
		V1AllowExecutor: req.Entry.V1AllowExecutor,
	})
	return httpapi.JSONResponse(http.StatusOK, result), nil
}

// RegisterRoutes mounts the admin surface on mux behind requireAdmin.
// perm builds a RequirePermission middleware from a route signature,
// resolved against the static policy table; bundle and recipient writes
// are policy-gated, while reads and the simulator require only an
// authenticated admin/token.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux, requireAdmin func(http.Handler) http.Handler, perm func(signature string) func(http.Handler) http.Handler) {
	mux.Handle("GET /admin/bundles", requireAdmin(httpapi.Adapt(h.ListBundles)))
	mux.Handle("GET /admin/bundles/{bundleId}", requireAdmin(httpapi.AdaptParams(h.GetBundle, "bundleId")))
	mux.Handle("POST /admin/bundles", requireAdmin(perm("POST /admin/bundles")(httpapi.Adapt(h.CreateBundle))))
	mux.Handle("PATCH /admin/bundles/{bundleId}", requireAdmin(perm("PATCH /admin/bundles/{bundleId}")(httpapi.AdaptParams(h.UpdateBundle, "bundleId"))))
	mux.Handle("DELETE /admin/bundles/{bundleId}", requireAdmin(perm("DELETE /admin/bundles/{bundleId}")(httpapi.AdaptParams(h.DeleteBundle, "bundleId"))))

	if h.scheduler != nil {
		mux.Handle("POST /admin/bundles/{bundleId}/build", requireAdmin(perm("POST /admin/bundles/{bundleId}/build")(httpapi.AdaptParams(h.BuildBundle, "bundleId"))))
		mux.Handle("GET /admin/bundles/{bundleId}/build/status", requireAdmin(httpapi.AdaptParams(h.BuildStatus, "bundleId")))
	}

	mux.Handle("GET /admin/recipients", requireAdmin(httpapi.Adapt(h.ListRecipients)))
	mux.Handle("POST /admin/recipients", requireAdmin(perm("POST /admin/recipients")(httpapi.Adapt(h.CreateRecipient))))

	mux.Handle("POST /admin/permissions/simulate", requireAdmin(httpapi.Adapt(h.Simulate)))
}
