package service

import (
	"encoding/json"
	"time"

	"appwritectl/internal/mutation"
	"appwritectl/internal/plan"
	"appwritectl/internal/target"
)

// Tool names served by Dispatch.
const (
	ToolCapabilitiesList = "capabilities.list"
	ToolContextGet       = "context.get"
	ToolTargetsResolve   = "targets.resolve"
	ToolScopeCatalogGet  = "scopes.catalog.get"
	ToolChangesPreview   = "changes.preview"
	ToolChangesApply     = "changes.apply"
	ToolConfirmIssue     = "confirm.issue"
)

// Transports the framing layer can name.
const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

type CapabilitiesRequest struct {
	Transport string `json:"transport,omitempty"`
}

type CapabilitiesResponse struct {
	CorrelationID string       `json:"correlation_id"`
	Summary       string       `json:"summary"`
	Capabilities  Capabilities `json:"capabilities"`
}

type Capabilities struct {
	Domains             map[string][]string `json:"domains"`
	TransportDefault    string              `json:"transport_default"`
	SupportedTransports []string            `json:"supported_transports"`
	AutoTargetingOn     bool                `json:"auto_targeting_enabled"`
	ScopeCatalogVersion string              `json:"scope_catalog_version"`
}

type ContextResponse struct {
	CorrelationID         string           `json:"correlation_id"`
	Summary               string           `json:"summary"`
	KnownProjectIDs       []string         `json:"known_project_ids"`
	AliasCount            int              `json:"alias_count"`
	AutoTargetProjectIDs  []string         `json:"auto_target_project_ids"`
	DefaultTargetSelector *target.Selector `json:"default_target_selector,omitempty"`
}

type ResolveTargetsRequest struct {
	Targets        []target.Input   `json:"targets,omitempty"`
	TargetSelector *target.Selector `json:"target_selector,omitempty"`
}

type ResolveTargetsResponse struct {
	CorrelationID   string            `json:"correlation_id"`
	Summary         string            `json:"summary"`
	ResolvedTargets []target.Resolved `json:"resolved_targets"`
	Source          string            `json:"source"`
}

type ScopeCatalogResponse struct {
	CorrelationID  string                    `json:"correlation_id"`
	Summary        string                    `json:"summary"`
	CatalogVersion string                    `json:"catalog_version"`
	Actions        map[string]CatalogedScope `json:"actions"`
}

type CatalogedScope struct {
	RequiredScopes []string `json:"required_scopes"`
}

type PreviewRequest struct {
	Actor          string               `json:"actor"`
	Targets        []target.Input       `json:"targets,omitempty"`
	TargetSelector *target.Selector     `json:"target_selector,omitempty"`
	Operations     []mutation.Operation `json:"operations"`
	Transport      string               `json:"transport,omitempty"`
	// Credentials are accepted on the wire but never used: execution
	// always runs under the process-configured auth.
	Credentials json.RawMessage `json:"credentials,omitempty"`
}

type PreviewResponse struct {
	CorrelationID string `json:"correlation_id"`
	Summary       string `json:"summary"`
	plan.Plan
}

type ApplyRequest struct {
	Actor             string               `json:"actor"`
	Targets           []target.Input       `json:"targets,omitempty"`
	TargetSelector    *target.Selector     `json:"target_selector,omitempty"`
	Operations        []mutation.Operation `json:"operations"`
	PlanID            string               `json:"plan_id"`
	PlanHash          string               `json:"plan_hash"`
	ConfirmationToken string               `json:"confirmation_token,omitempty"`
	Transport         string               `json:"transport,omitempty"`
	Credentials       json.RawMessage      `json:"credentials,omitempty"`
}

type ApplyResponse struct {
	CorrelationID string                  `json:"correlation_id"`
	Status        string                  `json:"status"`
	Summary       string                  `json:"summary"`
	PlanID        string                  `json:"plan_id"`
	TargetResults []mutation.TargetResult `json:"target_results"`
}

type ConfirmIssueRequest struct {
	PlanHash   string `json:"plan_hash"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

type ConfirmIssueResponse struct {
	CorrelationID string    `json:"correlation_id"`
	Summary       string    `json:"summary"`
	Token         string    `json:"token"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// ErrorResponse is the uniform failure shape for every tool.
type ErrorResponse struct {
	CorrelationID string          `json:"correlation_id"`
	Status        string          `json:"status"`
	Summary       string          `json:"summary"`
	Error         *mutation.Error `json:"error"`
}
