// Package plan normalizes a batch of operations into an immutable,
// hashed, time-limited plan. A preview stores the plan; an apply must
// echo the plan id and hash back and rehash identically before anything
// executes.
package plan

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"appwritectl/internal/canonical"
	"appwritectl/internal/mutation"
	"appwritectl/internal/scopes"
)

// DefaultTTL bounds how long a stored plan stays valid.
const DefaultTTL = 600 * time.Second

// Descriptor summarizes one planned operation inside a Plan.
type Descriptor struct {
	OperationID string `json:"operation_id"`
	Domain      string `json:"domain"`
	Action      string `json:"action"`
	Destructive bool   `json:"destructive"`
	Critical    bool   `json:"critical"`
}

// Plan is immutable once built and shared read-only afterwards.
type Plan struct {
	PlanID           string       `json:"plan_id"`
	PlanHash         string       `json:"plan_hash"`
	Actor            string       `json:"actor"`
	TargetProjects   []string     `json:"target_projects"`
	Operations       []Descriptor `json:"operations"`
	RequiredScopes   []string     `json:"required_scopes"`
	DestructiveCount int          `json:"destructive_count"`
	RiskLevel        string       `json:"risk_level"`
	CreatedAt        time.Time    `json:"created_at"`
	ExpiresAt        time.Time    `json:"expires_at"`
}

// Critical reports whether any planned operation needs a confirmation
// token before apply.
func (p *Plan) Critical() bool {
	for _, d := range p.Operations {
		if d.Critical {
			return true
		}
	}
	return false
}

// Manager owns the in-memory plan store. Preview writes, apply reads;
// both may run concurrently from independent clients.
type Manager struct {
	TTL time.Duration
	Now func() time.Time

	mu    sync.Mutex
	plans map[string]*Plan
}

// NewManager returns a Manager with the given TTL (DefaultTTL if zero).
func NewManager(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{TTL: ttl, Now: time.Now, plans: make(map[string]*Plan)}
}

// Normalize upgrades and completes every operation: domain derived from
// the action, catalog scopes unioned into required_scopes (sorted,
// deduped), destructive/critical upgraded per policy but never
// downgraded. Unknown actions and empty operation ids are
// VALIDATION_ERROR.
func Normalize(ops []mutation.Operation, targetCount int) ([]mutation.Operation, *mutation.Error) {
	if len(ops) == 0 {
		return nil, mutation.NewError(mutation.CodeValidation, "operations must not be empty")
	}
	out := make([]mutation.Operation, len(ops))
	seen := make(map[string]bool, len(ops))
	for i, op := range ops {
		if strings.TrimSpace(op.OperationID) == "" {
			return nil, mutation.NewError(mutation.CodeValidation,
				fmt.Sprintf("operations[%d].operation_id required", i))
		}
		if seen[op.OperationID] {
			return nil, mutation.NewError(mutation.CodeValidation,
				fmt.Sprintf("duplicate operation_id %q", op.OperationID))
		}
		seen[op.OperationID] = true
		if !scopes.Known(op.Action) {
			return nil, mutation.NewError(mutation.CodeValidation,
				fmt.Sprintf("unknown action %q", op.Action))
		}
		n := op
		n.Domain = mutation.DomainOf(op.Action)
		n.RequiredScopes = unionSorted(op.RequiredScopes, scopes.Required(op.Action))
		// Hints only ever upgrade: a client cannot declare an inherently
		// destructive action safe.
		n.Destructive = op.Destructive || scopes.Destructive(op.Action)
		n.Critical = op.Critical ||
			op.Action == "project.delete" ||
			(n.Destructive && targetCount >= 2)
		out[i] = n
	}
	return out, nil
}

// HashRequest computes the plan hash over the canonical form of the
// normalized request. Params key order never affects the result.
func HashRequest(actor string, targetProjects []string, ops []mutation.Operation) (string, error) {
	hashOps := make([]any, len(ops))
	for i, op := range ops {
		m := map[string]any{
			"operation_id":    op.OperationID,
			"domain":          op.Domain,
			"action":          op.Action,
			"required_scopes": op.RequiredScopes,
			"destructive":     op.Destructive,
			"critical":        op.Critical,
		}
		if op.Params != nil {
			m["params"] = op.Params
		}
		if op.IdempotencyKey != "" {
			m["idempotency_key"] = op.IdempotencyKey
		}
		hashOps[i] = m
	}
	return canonical.Hash(map[string]any{
		"actor":           actor,
		"mode":            "preview",
		"target_projects": targetProjects,
		"operations":      hashOps,
		"policy_tag":      scopes.CatalogVersion,
	})
}

// BuildAndStore normalizes the request, computes the plan hash, stores
// the plan, and returns it with the normalized operations.
func (m *Manager) BuildAndStore(actor string, targetProjects []string, ops []mutation.Operation) (*Plan, []mutation.Operation, *mutation.Error) {
	norm, serr := Normalize(ops, len(targetProjects))
	if serr != nil {
		return nil, nil, serr
	}
	hash, err := HashRequest(actor, targetProjects, norm)
	if err != nil {
		return nil, nil, mutation.NewError(mutation.CodeInternal, "plan hash failed: "+err.Error())
	}
	now := m.now()
	p := &Plan{
		PlanID:         "plan_" + uuid.NewString(),
		PlanHash:       hash,
		Actor:          actor,
		TargetProjects: append([]string(nil), targetProjects...),
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.TTL),
	}
	var planScopes []string
	for _, op := range norm {
		p.Operations = append(p.Operations, Descriptor{
			OperationID: op.OperationID,
			Domain:      op.Domain,
			Action:      op.Action,
			Destructive: op.Destructive,
			Critical:    op.Critical,
		})
		if op.Destructive {
			p.DestructiveCount++
		}
		planScopes = append(planScopes, op.RequiredScopes...)
	}
	p.RequiredScopes = unionSorted(planScopes, nil)
	p.RiskLevel = riskLevel(p.Operations)

	m.mu.Lock()
	m.plans[p.PlanID] = p
	m.mu.Unlock()
	return p, norm, nil
}

// RequireMatching re-verifies a stored plan against the apply request:
// the plan must exist, be unexpired, carry the submitted hash, and the
// freshly rebuilt request must rehash to the same value. Any failure is
// PLAN_MISMATCH.
func (m *Manager) RequireMatching(actor string, targetProjects []string, ops []mutation.Operation, planID, planHash string) (*Plan, []mutation.Operation, *mutation.Error) {
	if strings.TrimSpace(planID) == "" || strings.TrimSpace(planHash) == "" {
		return nil, nil, mismatch("plan_id and plan_hash are required")
	}
	m.mu.Lock()
	p, ok := m.plans[planID]
	m.mu.Unlock()
	if !ok {
		return nil, nil, mismatch("plan not found; run changes.preview again")
	}
	if !m.now().Before(p.ExpiresAt) {
		return nil, nil, mismatch("plan expired; run changes.preview again")
	}
	if p.PlanHash != planHash {
		return nil, nil, mismatch("submitted plan_hash does not match the stored plan")
	}
	norm, serr := Normalize(ops, len(targetProjects))
	if serr != nil {
		return nil, nil, serr
	}
	rebuilt, err := HashRequest(actor, targetProjects, norm)
	if err != nil {
		return nil, nil, mutation.NewError(mutation.CodeInternal, "plan hash failed: "+err.Error())
	}
	if rebuilt != p.PlanHash {
		return nil, nil, mismatch("request no longer matches the previewed plan")
	}
	return p, norm, nil
}

// Get returns a stored plan, or nil.
func (m *Manager) Get(planID string) *Plan {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plans[planID]
}

// Sweep drops expired plans and returns how many were removed.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, p := range m.plans {
		if !now.Before(p.ExpiresAt) {
			delete(m.plans, id)
			removed++
		}
	}
	return removed
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func mismatch(msg string) *mutation.Error {
	return mutation.NewError(mutation.CodePlanMismatch, msg)
}

func riskLevel(descs []Descriptor) string {
	level := mutation.RiskLow
	for _, d := range descs {
		if d.Critical {
			return mutation.RiskHigh
		}
		if d.Destructive {
			level = mutation.RiskMedium
		}
	}
	return level
}

func unionSorted(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
