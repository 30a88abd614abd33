package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"appwritectl/internal/metrics"
	"appwritectl/internal/mutation"
)

// Dispatch routes a raw framed request to the named tool. It is the
// outermost boundary: unexpected panics become a generic retryable
// INTERNAL_ERROR instead of killing the framing loop.
func (s *Service) Dispatch(ctx context.Context, tool string, raw json.RawMessage) (resp any) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tool panicked", "tool", tool, "panic", fmt.Sprint(r))
			serr := mutation.NewError(mutation.CodeInternal, "internal error while handling the request")
			serr.Retryable = true
			resp = s.fail(newCorrelationID(), serr)
			metrics.ToolInvocationsTotal.WithLabelValues(tool, "panic").Inc()
		}
	}()

	resp = s.dispatch(ctx, tool, raw)
	outcome := "success"
	if _, failed := resp.(ErrorResponse); failed {
		outcome = "failure"
	}
	metrics.ToolInvocationsTotal.WithLabelValues(tool, outcome).Inc()
	return resp
}

func (s *Service) dispatch(ctx context.Context, tool string, raw json.RawMessage) any {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	switch tool {
	case ToolCapabilitiesList:
		var req CapabilitiesRequest
		if serr := decode(raw, &req); serr != nil {
			return s.fail(newCorrelationID(), serr)
		}
		return s.Capabilities(ctx, req)
	case ToolContextGet:
		return s.ContextGet(ctx)
	case ToolTargetsResolve:
		var req ResolveTargetsRequest
		if serr := decode(raw, &req); serr != nil {
			return s.fail(newCorrelationID(), serr)
		}
		return s.ResolveTargets(ctx, req)
	case ToolScopeCatalogGet:
		return s.ScopeCatalog(ctx)
	case ToolChangesPreview:
		var req PreviewRequest
		if serr := decode(raw, &req); serr != nil {
			return s.fail(newCorrelationID(), serr)
		}
		return s.Preview(ctx, req)
	case ToolChangesApply:
		var req ApplyRequest
		if serr := decode(raw, &req); serr != nil {
			return s.fail(newCorrelationID(), serr)
		}
		return s.Apply(ctx, req)
	case ToolConfirmIssue:
		var req ConfirmIssueRequest
		if serr := decode(raw, &req); serr != nil {
			return s.fail(newCorrelationID(), serr)
		}
		return s.ConfirmIssue(ctx, req)
	default:
		return s.fail(newCorrelationID(),
			mutation.NewError(mutation.CodeValidation, fmt.Sprintf("unknown tool %q", tool)))
	}
}

func decode(raw json.RawMessage, into any) *mutation.Error {
	if err := json.Unmarshal(raw, into); err != nil {
		return mutation.NewError(mutation.CodeValidation, "request body is not valid JSON: "+err.Error())
	}
	return nil
}
