// Package service is the control facade: it wires the resolver, plan
// manager, confirmation service, executor, adapter, and audit log into
// the seven tool operations the framing layer exposes.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"appwritectl/internal/appwrite"
	"appwritectl/internal/audit"
	"appwritectl/internal/config"
	"appwritectl/internal/confirm"
	"appwritectl/internal/executor"
	"appwritectl/internal/metrics"
	"appwritectl/internal/mutation"
	"appwritectl/internal/plan"
	"appwritectl/internal/redact"
	"appwritectl/internal/scopes"
	"appwritectl/internal/target"
)

// DefaultConfirmTTL bounds confirm.issue when the request omits
// ttl_seconds.
const (
	DefaultConfirmTTL = 300 * time.Second
	MinConfirmTTL     = 30
	MaxConfirmTTL     = 7200
)

// Service owns the shared mutable state (plan store, idempotency cache,
// audit log) and the immutable configured maps.
type Service struct {
	Resolver *target.Resolver
	Plans    *plan.Manager
	Confirm  *confirm.Service
	Executor *executor.Executor
	Audit    *audit.Store

	TransportDefault  string
	ConfirmDefaultTTL time.Duration
	Now               func() time.Time
}

// New builds a Service from configuration. The audit sink defaults to
// in-memory when sink is nil.
func New(cfg config.Config, sink audit.Sink) (*Service, error) {
	confirmSvc, err := confirm.NewService(cfg.Confirm.Secret, cfg.Production)
	if err != nil {
		return nil, err
	}

	adapter := appwrite.New()
	if cfg.Adapter.TimeoutMS > 0 {
		adapter.Timeout = time.Duration(cfg.Adapter.TimeoutMS) * time.Millisecond
	}
	if cfg.Adapter.MaxRetries != nil {
		retries := *cfg.Adapter.MaxRetries
		adapter.MaxRetries = &retries
	}
	if cfg.Adapter.RetryBaseMS > 0 {
		adapter.RetryBase = time.Duration(cfg.Adapter.RetryBaseMS) * time.Millisecond
	}
	if cfg.Adapter.RetryMaxDelayMS > 0 {
		adapter.RetryMaxDelay = time.Duration(cfg.Adapter.RetryMaxDelayMS) * time.Millisecond
	}
	if len(cfg.Adapter.RetryStatuses) > 0 {
		statuses := map[int]bool{}
		for _, s := range cfg.Adapter.RetryStatuses {
			statuses[s] = true
		}
		adapter.RetryStatuses = statuses
	}
	if cfg.Features.LegacyUserUpdate != nil {
		adapter.LegacyUserUpdate = *cfg.Features.LegacyUserUpdate
	}

	auditStore := audit.NewStore(sink)
	exec := executor.New(adapter, auditStore)
	exec.ProjectAuth = map[string]mutation.AuthContext{}
	for id, p := range cfg.Projects {
		exec.ProjectAuth[id] = mutation.AuthContext{
			Endpoint: cfg.ProjectEndpoint(id),
			APIKey:   p.APIKey,
			Scopes:   p.Scopes,
		}
	}
	if cfg.Management != nil {
		endpoint := cfg.Management.Endpoint
		if endpoint == "" {
			endpoint = cfg.DefaultEndpoint
		}
		exec.ManagementEnabled = true
		exec.ManagementAuth = mutation.AuthContext{
			Endpoint: endpoint,
			APIKey:   cfg.Management.APIKey,
			Scopes:   cfg.Management.Scopes,
		}
	}

	var defaultSelector *target.Selector
	if sel := cfg.Defaults.TargetSelector; sel != nil {
		defaultSelector = &target.Selector{Mode: sel.Mode, Values: sel.Values}
	}
	resolver := &target.Resolver{
		AliasMap:             cfg.AliasMap(),
		KnownProjectIDs:      cfg.KnownProjectIDs(),
		AutoTargetProjectIDs: cfg.AutoTargetProjectIDs(),
		DefaultSelector:      defaultSelector,
	}

	ttl := time.Duration(cfg.Plans.TTLSeconds) * time.Second
	confirmTTL := DefaultConfirmTTL
	if cfg.Confirm.DefaultTTLSeconds > 0 {
		confirmTTL = time.Duration(cfg.Confirm.DefaultTTLSeconds) * time.Second
	}
	transportDefault := cfg.Server.TransportDefault
	if transportDefault == "" {
		transportDefault = TransportStdio
	}

	return &Service{
		Resolver:          resolver,
		Plans:             plan.NewManager(ttl),
		Confirm:           confirmSvc,
		Executor:          exec,
		Audit:             auditStore,
		TransportDefault:  transportDefault,
		ConfirmDefaultTTL: confirmTTL,
		Now:               time.Now,
	}, nil
}

func supportedTransports() []string {
	return []string{TransportStdio, TransportHTTP}
}

// Capabilities implements capabilities.list.
func (s *Service) Capabilities(_ context.Context, req CapabilitiesRequest) any {
	corrID := newCorrelationID()
	if serr := checkTransport(req.Transport); serr != nil {
		return s.fail(corrID, serr)
	}
	domains := map[string][]string{}
	for _, action := range scopes.Actions() {
		domain := mutation.DomainOf(action)
		domains[domain] = append(domains[domain], action)
	}
	domains["operation"] = []string{
		ToolCapabilitiesList, ToolContextGet, ToolTargetsResolve,
		ToolScopeCatalogGet, ToolChangesPreview, ToolChangesApply, ToolConfirmIssue,
	}
	return CapabilitiesResponse{
		CorrelationID: corrID,
		Summary:       fmt.Sprintf("%d domains available", len(domains)),
		Capabilities: Capabilities{
			Domains:             domains,
			TransportDefault:    s.TransportDefault,
			SupportedTransports: supportedTransports(),
			AutoTargetingOn:     s.Resolver.AutoTargetingEnabled(),
			ScopeCatalogVersion: scopes.CatalogVersion,
		},
	}
}

// ContextGet implements context.get.
func (s *Service) ContextGet(_ context.Context) any {
	corrID := newCorrelationID()
	return ContextResponse{
		CorrelationID:         corrID,
		Summary:               fmt.Sprintf("%d project(s) configured", len(s.Resolver.KnownProjectIDs)),
		KnownProjectIDs:       s.Resolver.KnownProjectIDs,
		AliasCount:            len(s.Resolver.AliasMap),
		AutoTargetProjectIDs:  emptyIfNil(s.Resolver.AutoTargetProjectIDs),
		DefaultTargetSelector: s.Resolver.DefaultSelector,
	}
}

// ResolveTargets implements targets.resolve.
func (s *Service) ResolveTargets(_ context.Context, req ResolveTargetsRequest) any {
	corrID := newCorrelationID()
	resolved, source, serr := s.Resolver.Resolve(req.Targets, req.TargetSelector)
	if serr != nil {
		return s.fail(corrID, serr)
	}
	return ResolveTargetsResponse{
		CorrelationID:   corrID,
		Summary:         fmt.Sprintf("resolved %d target(s) via %s", len(resolved), source),
		ResolvedTargets: resolved,
		Source:          source,
	}
}

// ScopeCatalog implements scopes.catalog.get.
func (s *Service) ScopeCatalog(_ context.Context) any {
	corrID := newCorrelationID()
	actions := map[string]CatalogedScope{}
	for action, required := range scopes.All() {
		actions[action] = CatalogedScope{RequiredScopes: required}
	}
	return ScopeCatalogResponse{
		CorrelationID:  corrID,
		Summary:        fmt.Sprintf("catalog %s with %d actions", scopes.CatalogVersion, len(actions)),
		CatalogVersion: scopes.CatalogVersion,
		Actions:        actions,
	}
}

// Preview implements changes.preview: validate, resolve, build and
// store the plan. No upstream calls and no audit side effects.
func (s *Service) Preview(_ context.Context, req PreviewRequest) any {
	corrID := newCorrelationID()
	if serr := s.validateMutationRequest(req.Actor, req.Targets, req.TargetSelector, req.Transport); serr != nil {
		return s.fail(corrID, serr)
	}
	resolved, _, serr := s.Resolver.Resolve(req.Targets, req.TargetSelector)
	if serr != nil {
		return s.fail(corrID, serr)
	}
	p, _, serr := s.Plans.BuildAndStore(req.Actor, target.ProjectIDs(resolved), req.Operations)
	if serr != nil {
		return s.fail(corrID, serr)
	}
	metrics.PlansBuiltTotal.Inc()
	return PreviewResponse{
		CorrelationID: corrID,
		Summary: fmt.Sprintf("planned %d operation(s) across %d project(s), risk %s",
			len(p.Operations), len(p.TargetProjects), p.RiskLevel),
		Plan: *p,
	}
}

// Apply implements changes.apply: re-verify the plan, gate critical
// operations on a confirmation token, then execute target by target.
// Client-supplied credentials are ignored by design; execution always
// uses the process-configured auth.
func (s *Service) Apply(ctx context.Context, req ApplyRequest) any {
	corrID := newCorrelationID()
	if serr := s.validateMutationRequest(req.Actor, req.Targets, req.TargetSelector, req.Transport); serr != nil {
		return s.fail(corrID, serr)
	}
	resolved, _, serr := s.Resolver.Resolve(req.Targets, req.TargetSelector)
	if serr != nil {
		return s.fail(corrID, serr)
	}
	targetIDs := target.ProjectIDs(resolved)
	p, normalized, serr := s.Plans.RequireMatching(req.Actor, targetIDs, req.Operations, req.PlanID, req.PlanHash)
	if serr != nil {
		return s.fail(corrID, serr)
	}
	if serr := s.checkConfirmation(p, req.ConfirmationToken); serr != nil {
		return s.fail(corrID, serr)
	}

	status, results := s.Executor.Execute(ctx, req.Actor, targetIDs, normalized, corrID)
	return ApplyResponse{
		CorrelationID: corrID,
		Status:        status,
		Summary: fmt.Sprintf("applied %d operation(s) across %d project(s): %s",
			len(normalized), len(targetIDs), status),
		PlanID:        p.PlanID,
		TargetResults: results,
	}
}

// ConfirmIssue implements confirm.issue.
func (s *Service) ConfirmIssue(_ context.Context, req ConfirmIssueRequest) any {
	corrID := newCorrelationID()
	if strings.TrimSpace(req.PlanHash) == "" {
		return s.fail(corrID, mutation.NewError(mutation.CodeValidation, "plan_hash required"))
	}
	ttl := s.ConfirmDefaultTTL
	if req.TTLSeconds != 0 {
		if req.TTLSeconds < MinConfirmTTL || req.TTLSeconds > MaxConfirmTTL {
			return s.fail(corrID, mutation.NewError(mutation.CodeValidation,
				fmt.Sprintf("ttl_seconds must be between %d and %d", MinConfirmTTL, MaxConfirmTTL)))
		}
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	expires := s.now().Add(ttl)
	token, err := s.Confirm.Issue(req.PlanHash, expires.Unix())
	if err != nil {
		return s.fail(corrID, mutation.NewError(mutation.CodeInternal, "token issue failed: "+err.Error()))
	}
	metrics.ConfirmationsIssuedTotal.Inc()
	return ConfirmIssueResponse{
		CorrelationID: corrID,
		Summary:       fmt.Sprintf("confirmation token valid until %s", expires.UTC().Format(time.RFC3339)),
		Token:         token,
		ExpiresAt:     expires,
	}
}

// checkConfirmation applies the destructive-policy gate before any
// upstream call. Missing or expired tokens are CONFIRM_REQUIRED; bad
// signatures and plan mismatches are INVALID_CONFIRM_TOKEN.
func (s *Service) checkConfirmation(p *plan.Plan, token string) *mutation.Error {
	if !p.Critical() {
		return nil
	}
	if strings.TrimSpace(token) == "" {
		serr := mutation.NewError(mutation.CodeConfirmRequired,
			"plan contains critical operations; a confirmation token is required")
		serr.Remediation = "call confirm.issue with the plan_hash and retry with the token"
		return serr
	}
	switch s.Confirm.Verify(token, p.PlanHash, s.now().Unix()) {
	case confirm.OK:
		return nil
	case confirm.Expired:
		serr := mutation.NewError(mutation.CodeConfirmRequired, "confirmation token expired")
		serr.Remediation = "call confirm.issue again and retry"
		return serr
	default:
		return mutation.NewError(mutation.CodeInvalidConfirmToken,
			"confirmation token is invalid or bound to another plan")
	}
}

func (s *Service) validateMutationRequest(actor string, targets []target.Input, selector *target.Selector, transport string) *mutation.Error {
	if serr := checkTransport(transport); serr != nil {
		return serr
	}
	if strings.TrimSpace(actor) == "" {
		return mutation.NewError(mutation.CodeValidation, "actor required")
	}
	if len(targets) == 0 && selector == nil &&
		s.Resolver.DefaultSelector == nil && !s.Resolver.AutoTargetingEnabled() {
		return mutation.NewError(mutation.CodeValidation,
			"either targets or target_selector required")
	}
	return nil
}

func checkTransport(transport string) *mutation.Error {
	if transport == "" {
		return nil
	}
	supported := supportedTransports()
	for _, t := range supported {
		if t == transport {
			return nil
		}
	}
	serr := mutation.NewError(mutation.CodeCapabilityUnavailable,
		fmt.Sprintf("transport %q is not supported", transport))
	serr.SupportedTransports = supported
	serr.Remediation = "use one of the supported transports"
	return serr
}

// fail wraps a standard error into the uniform failure response. The
// message is redacted on the way out.
func (s *Service) fail(corrID string, serr *mutation.Error) ErrorResponse {
	cleaned := *serr
	cleaned.Message = redact.String(cleaned.Message)
	return ErrorResponse{
		CorrelationID: corrID,
		Status:        mutation.StatusFailed,
		Summary:       cleaned.Code + ": " + cleaned.Message,
		Error:         &cleaned,
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func newCorrelationID() string {
	return uuid.NewString()
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

