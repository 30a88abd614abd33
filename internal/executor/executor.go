// Package executor runs a verified plan's operations against every
// resolved target, in order. Targets are sequential and so are the
// operations within a target: target_results[i] always lines up with
// target_projects[i].
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"appwritectl/internal/audit"
	"appwritectl/internal/mutation"
	"appwritectl/internal/redact"
)

// Adapter dispatches one operation upstream. The production
// implementation is internal/appwrite; tests swap in fakes.
type Adapter interface {
	ExecuteOperation(ctx context.Context, targetProjectID string, op mutation.Operation, auth mutation.AuthContext, correlationID string) (map[string]any, *mutation.Error)
}

// Executor owns the idempotency cache and drives per-target execution.
type Executor struct {
	Adapter Adapter
	Audit   *audit.Store
	Now     func() time.Time

	// FallbackAuth is used for every target when ProjectAuth is nil.
	FallbackAuth mutation.AuthContext
	// ProjectAuth maps project id → credentials. When non-nil, a target
	// missing from it fails preflight instead of borrowing the fallback.
	ProjectAuth map[string]mutation.AuthContext
	// ManagementAuth serves project.* actions when ManagementEnabled.
	ManagementAuth    mutation.AuthContext
	ManagementEnabled bool

	mu    sync.Mutex
	cache map[string]mutation.OperationResult
}

// New returns an Executor wired to the given adapter and audit store.
func New(adapter Adapter, auditStore *audit.Store) *Executor {
	return &Executor{
		Adapter: adapter,
		Audit:   auditStore,
		Now:     time.Now,
		cache:   make(map[string]mutation.OperationResult),
	}
}

// Execute runs ops against every target in order and aggregates the
// results. The audit log receives one planned entry per target×op
// first, then one success/failed/skipped entry per executed op.
func (e *Executor) Execute(ctx context.Context, actor string, targets []string, ops []mutation.Operation, correlationID string) (string, []mutation.TargetResult) {
	for _, projectID := range targets {
		for _, op := range ops {
			e.appendAudit(ctx, audit.Record{
				Actor:         actor,
				TargetProject: projectID,
				OperationID:   op.OperationID,
				Outcome:       audit.OutcomePlanned,
				CorrelationID: correlationID,
				Details:       map[string]any{"action": op.Action},
			})
		}
	}

	results := make([]mutation.TargetResult, 0, len(targets))
	for _, projectID := range targets {
		results = append(results, e.executeTarget(ctx, actor, projectID, ops, correlationID))
	}
	return overallStatus(results), results
}

func (e *Executor) executeTarget(ctx context.Context, actor, projectID string, ops []mutation.Operation, correlationID string) mutation.TargetResult {
	result := mutation.TargetResult{ProjectID: projectID, Status: mutation.StatusSuccess}

	auth, preflight := e.resolveAuth(projectID)
	for _, op := range ops {
		var opResult mutation.OperationResult
		var replayed bool
		if preflight != nil {
			opResult = e.failOp(op, projectID, preflight)
		} else {
			opResult, replayed = e.executeOp(ctx, projectID, op, auth, correlationID)
		}
		if opResult.Status != mutation.StatusSuccess {
			result.Status = mutation.StatusFailed
		}
		outcome := audit.OutcomeSuccess
		switch {
		case opResult.Status != mutation.StatusSuccess:
			outcome = audit.OutcomeFailed
		case replayed:
			outcome = audit.OutcomeSkipped
		}
		details := map[string]any{"action": op.Action}
		if opResult.Error != nil {
			details["error_code"] = opResult.Error.Code
			details["error_message"] = opResult.Error.Message
		}
		e.appendAudit(ctx, audit.Record{
			Actor:         actor,
			TargetProject: projectID,
			OperationID:   op.OperationID,
			Outcome:       outcome,
			CorrelationID: correlationID,
			Details:       details,
		})
		result.Operations = append(result.Operations, opResult)
	}
	return result
}

// resolveAuth picks the target's auth context. A non-nil error fails
// every operation of the target with AUTH_CONTEXT_REQUIRED.
func (e *Executor) resolveAuth(projectID string) (mutation.AuthContext, *mutation.Error) {
	auth := e.FallbackAuth
	if e.ProjectAuth != nil {
		var ok bool
		auth, ok = e.ProjectAuth[projectID]
		if !ok {
			serr := mutation.NewError(mutation.CodeAuthContextRequired,
				fmt.Sprintf("no auth context configured for project %q", projectID))
			serr.Remediation = "add the project to the configuration with endpoint and api_key"
			return mutation.AuthContext{}, serr
		}
	}
	if !auth.Complete() {
		serr := mutation.NewError(mutation.CodeAuthContextRequired,
			fmt.Sprintf("auth context for project %q is missing endpoint or api_key", projectID))
		serr.Remediation = "configure endpoint and api_key for the target project"
		return mutation.AuthContext{}, serr
	}
	return auth, nil
}

func (e *Executor) executeOp(ctx context.Context, projectID string, op mutation.Operation, auth mutation.AuthContext, correlationID string) (mutation.OperationResult, bool) {
	if strings.HasPrefix(op.Action, "project.") {
		if !e.ManagementEnabled {
			serr := mutation.NewError(mutation.CodeCapabilityUnavailable,
				"project management is not configured")
			serr.Remediation = "configure the management section to enable project.* actions"
			return e.failOp(op, projectID, serr), false
		}
		auth = e.ManagementAuth
		if !auth.Complete() {
			serr := mutation.NewError(mutation.CodeAuthContextRequired,
				"management auth context is missing endpoint or api_key")
			serr.Remediation = "set management.endpoint and management.api_key"
			return e.failOp(op, projectID, serr), false
		}
	}

	// An empty scope set means the key's scopes are unknown; the
	// upstream stays the authority and the preflight is skipped.
	if len(auth.Scopes) > 0 {
		if missing := missingScopes(op.RequiredScopes, auth.Scopes); len(missing) > 0 {
			serr := mutation.NewError(mutation.CodeMissingScope,
				fmt.Sprintf("api key lacks scopes: %s", strings.Join(missing, ", ")))
			serr.MissingScopes = missing
			serr.Remediation = "grant the listed scopes to the project api key"
			return e.failOp(op, projectID, serr), false
		}
	}

	cacheKey := ""
	if op.IdempotencyKey != "" {
		cacheKey = projectID + ":" + op.Action + ":" + op.IdempotencyKey
		e.mu.Lock()
		cached, hit := e.cache[cacheKey]
		e.mu.Unlock()
		if hit {
			return cached, true
		}
	}

	data, serr := e.Adapter.ExecuteOperation(ctx, projectID, op, auth, correlationID)
	if serr != nil {
		return e.failOp(op, projectID, serr), false
	}
	result := mutation.OperationResult{
		OperationID: op.OperationID,
		Status:      mutation.StatusSuccess,
		Data:        redactData(data),
	}
	if cacheKey != "" {
		e.mu.Lock()
		e.cache[cacheKey] = result
		e.mu.Unlock()
	}
	return result, false
}

// failOp normalizes an adapter or preflight error into an operation
// result: message redacted, target and operation id default-filled,
// retryable preserved.
func (e *Executor) failOp(op mutation.Operation, projectID string, serr *mutation.Error) mutation.OperationResult {
	norm := *serr
	norm.Message = redact.String(norm.Message)
	if norm.Target == "" {
		norm.Target = projectID
	}
	if norm.OperationID == "" {
		norm.OperationID = op.OperationID
	}
	slog.Warn("operation failed",
		"project", projectID, "operation", op.OperationID, "action", op.Action, "code", norm.Code)
	return mutation.OperationResult{
		OperationID: op.OperationID,
		Status:      mutation.StatusFailed,
		Error:       &norm,
	}
}

// SweepCache clears the idempotency cache.
func (e *Executor) SweepCache() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.cache)
	e.cache = make(map[string]mutation.OperationResult)
	return n
}

func (e *Executor) appendAudit(ctx context.Context, rec audit.Record) {
	if e.Audit == nil {
		return
	}
	rec.Timestamp = e.now()
	if err := e.Audit.Append(ctx, rec); err != nil {
		slog.Error("audit append failed", "error", err)
	}
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func missingScopes(required, available []string) []string {
	have := make(map[string]bool, len(available))
	for _, s := range available {
		have[s] = true
	}
	var missing []string
	for _, s := range required {
		if !have[s] {
			missing = append(missing, s)
		}
	}
	sort.Strings(missing)
	return missing
}

func redactData(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	return redact.Value(data).(map[string]any)
}

func overallStatus(results []mutation.TargetResult) string {
	if len(results) == 0 {
		return mutation.StatusFailed
	}
	succeeded := 0
	for _, r := range results {
		if r.Status == mutation.StatusSuccess {
			succeeded++
		}
	}
	switch succeeded {
	case len(results):
		return mutation.StatusSuccess
	case 0:
		return mutation.StatusFailed
	default:
		return mutation.StatusPartialSuccess
	}
}
