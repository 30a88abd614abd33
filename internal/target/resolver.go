// Package target resolves a request's target list to concrete project
// IDs. Explicit targets win over selectors, selectors win over auto
// resolution, and input order is preserved with first-occurrence dedup.
package target

import (
	"fmt"

	"appwritectl/internal/mutation"
)

// Sources recorded on resolved targets and surfaced by targets.resolve.
const (
	SourceExplicit = "explicit"
	SourceSelector = "selector"
	SourceAuto     = "auto"
)

// Selector modes.
const (
	ModeProjectID = "project_id"
	ModeAlias     = "alias"
	ModeAuto      = "auto"
)

// Input is one requested target: a project id or an alias. An entry
// with neither fails resolution with TARGET_NOT_FOUND; the selector
// applies only when the target list is empty.
type Input struct {
	ProjectID string `json:"project_id,omitempty"`
	Alias     string `json:"alias,omitempty"`
}

// Selector picks targets by mode when no explicit targets are given.
type Selector struct {
	Mode   string   `json:"mode"`
	Values []string `json:"values,omitempty"`
}

// Resolved is a target with a concrete, non-empty project id.
type Resolved struct {
	Index     int    `json:"index"`
	Source    string `json:"source"`
	ProjectID string `json:"project_id"`
}

// Resolver holds the configured state resolution runs against. All maps
// are immutable after startup.
type Resolver struct {
	AliasMap             map[string]string
	KnownProjectIDs      []string
	AutoTargetProjectIDs []string
	DefaultSelector      *Selector
}

// AutoTargetingEnabled reports whether a request with no targets and no
// selector can still resolve.
func (r *Resolver) AutoTargetingEnabled() bool {
	return len(r.AutoTargetProjectIDs) > 0 || len(r.KnownProjectIDs) == 1
}

// Resolve applies the resolution order: explicit targets, then the
// request selector (or the configured default), then auto.
func (r *Resolver) Resolve(targets []Input, selector *Selector) ([]Resolved, string, *mutation.Error) {
	if len(targets) > 0 {
		return r.resolveExplicit(targets)
	}
	if selector == nil {
		selector = r.DefaultSelector
	}
	if selector != nil && selector.Mode != ModeAuto {
		return r.resolveSelector(selector)
	}
	ids, serr := r.autoTargets()
	if serr != nil {
		return nil, "", serr
	}
	source := SourceAuto
	if selector != nil {
		source = SourceSelector
	}
	return resolvedList(ids, source), source, nil
}

func (r *Resolver) resolveExplicit(targets []Input) ([]Resolved, string, *mutation.Error) {
	ids := make([]string, 0, len(targets))
	for i, t := range targets {
		switch {
		case t.ProjectID != "":
			ids = append(ids, t.ProjectID)
		case t.Alias != "":
			id, ok := r.AliasMap[t.Alias]
			if !ok {
				return nil, "", mutation.NewError(mutation.CodeTargetNotFound,
					fmt.Sprintf("alias %q is not configured", t.Alias))
			}
			ids = append(ids, id)
		default:
			return nil, "", mutation.NewError(mutation.CodeTargetNotFound,
				fmt.Sprintf("target %d has neither project_id nor alias", i))
		}
	}
	return resolvedList(ids, SourceExplicit), SourceExplicit, nil
}

func (r *Resolver) resolveSelector(sel *Selector) ([]Resolved, string, *mutation.Error) {
	var ids []string
	switch sel.Mode {
	case ModeProjectID:
		known := make(map[string]bool, len(r.KnownProjectIDs))
		for _, id := range r.KnownProjectIDs {
			known[id] = true
		}
		for _, v := range sel.Values {
			if known[v] {
				ids = append(ids, v)
			}
		}
		if len(ids) == 0 {
			return nil, "", mutation.NewError(mutation.CodeTargetNotFound,
				"selector matched no known projects")
		}
	case ModeAlias:
		for _, v := range sel.Values {
			if id, ok := r.AliasMap[v]; ok {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return nil, "", mutation.NewError(mutation.CodeTargetNotFound,
				"selector matched no configured aliases")
		}
	default:
		return nil, "", mutation.NewError(mutation.CodeValidation,
			fmt.Sprintf("unknown selector mode %q", sel.Mode))
	}
	return resolvedList(ids, SourceSelector), SourceSelector, nil
}

func (r *Resolver) autoTargets() ([]string, *mutation.Error) {
	if len(r.AutoTargetProjectIDs) > 0 {
		return r.AutoTargetProjectIDs, nil
	}
	if len(r.KnownProjectIDs) == 1 {
		return r.KnownProjectIDs, nil
	}
	err := mutation.NewError(mutation.CodeTargetAmbiguous,
		"no targets given and no auto-target default is configured")
	err.Remediation = "pass targets or a target_selector, or configure defaults.auto_target_project_ids"
	return nil, err
}

func resolvedList(ids []string, source string) []Resolved {
	seen := make(map[string]bool, len(ids))
	out := make([]Resolved, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, Resolved{Index: len(out), Source: source, ProjectID: id})
	}
	return out
}

// ProjectIDs flattens resolved targets to their project ids, in order.
func ProjectIDs(resolved []Resolved) []string {
	out := make([]string, len(resolved))
	for i, r := range resolved {
		out[i] = r.ProjectID
	}
	return out
}
