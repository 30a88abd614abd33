package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"appwritectl/internal/audit"
	"appwritectl/internal/config"
	"appwritectl/internal/mutation"
	"appwritectl/internal/target"
)

type upstream struct {
	mu    sync.Mutex
	calls []*http.Request
	srv   *httptest.Server
	fail  map[string]int // path → status to return
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{fail: map[string]int{}}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.calls = append(u.calls, r.Clone(r.Context()))
		status := u.fail[r.Header.Get("X-Appwrite-Project")+r.URL.Path]
		u.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"message":"upstream failure"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"$id":"done"}`))
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) callCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.calls)
}

func newService(t *testing.T, u *upstream, withManagement bool) *Service {
	t.Helper()
	cfg := config.Config{
		DefaultEndpoint: u.srv.URL,
		Projects: map[string]config.ProjectConfig{
			"p_a": {APIKey: "key-a", Aliases: []string{"alpha"}},
			"p_b": {APIKey: "key-b"},
		},
	}
	if withManagement {
		cfg.Management = &config.ManagementConfig{APIKey: "key-mgmt"}
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	svc, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func dbCreateOps() []mutation.Operation {
	return []mutation.Operation{{
		OperationID: "op1",
		Action:      "database.create",
		Params:      map[string]any{"database_id": "db-main", "name": "Main DB"},
	}}
}

func previewOK(t *testing.T, svc *Service, req PreviewRequest) PreviewResponse {
	t.Helper()
	resp := svc.Preview(context.Background(), req)
	pr, ok := resp.(PreviewResponse)
	if !ok {
		t.Fatalf("preview failed: %+v", resp)
	}
	return pr
}

func TestTwoTargetDatabaseCreate(t *testing.T) {
	u := newUpstream(t)
	svc := newService(t, u, false)

	pr := previewOK(t, svc, PreviewRequest{
		Actor:      "alice",
		Targets:    []target.Input{{ProjectID: "p_a"}, {ProjectID: "p_b"}},
		Operations: dbCreateOps(),
	})
	if pr.DestructiveCount != 0 || pr.RiskLevel != mutation.RiskLow {
		t.Fatalf("preview: %+v", pr.Plan)
	}
	if len(pr.RequiredScopes) != 1 || pr.RequiredScopes[0] != "databases.write" {
		t.Fatalf("scopes: %v", pr.RequiredScopes)
	}
	if u.callCount() != 0 {
		t.Fatalf("preview must not call upstream")
	}

	resp := svc.Apply(context.Background(), ApplyRequest{
		Actor:      "alice",
		Targets:    []target.Input{{ProjectID: "p_a"}, {ProjectID: "p_b"}},
		Operations: dbCreateOps(),
		PlanID:     pr.PlanID,
		PlanHash:   pr.PlanHash,
	})
	ar, ok := resp.(ApplyResponse)
	if !ok {
		t.Fatalf("apply failed: %+v", resp)
	}
	if ar.Status != mutation.StatusSuccess {
		t.Fatalf("status: %s", ar.Status)
	}
	if len(ar.TargetResults) != 2 ||
		ar.TargetResults[0].ProjectID != pr.TargetProjects[0] ||
		ar.TargetResults[1].ProjectID != pr.TargetProjects[1] {
		t.Fatalf("ordering: %+v vs %v", ar.TargetResults, pr.TargetProjects)
	}
	if u.callCount() != 2 {
		t.Fatalf("upstream calls: %d", u.callCount())
	}
}

func TestPartialSuccess(t *testing.T) {
	u := newUpstream(t)
	u.fail["p_b/databases"] = http.StatusInternalServerError
	svc := newService(t, u, false)

	pr := previewOK(t, svc, PreviewRequest{
		Actor:      "alice",
		Targets:    []target.Input{{ProjectID: "p_a"}, {ProjectID: "p_b"}},
		Operations: dbCreateOps(),
	})
	resp := svc.Apply(context.Background(), ApplyRequest{
		Actor:      "alice",
		Targets:    []target.Input{{ProjectID: "p_a"}, {ProjectID: "p_b"}},
		Operations: dbCreateOps(),
		PlanID:     pr.PlanID,
		PlanHash:   pr.PlanHash,
	})
	ar := resp.(ApplyResponse)
	if ar.Status != mutation.StatusPartialSuccess {
		t.Fatalf("status: %s", ar.Status)
	}
	if ar.TargetResults[0].Status != mutation.StatusSuccess || ar.TargetResults[1].Status != mutation.StatusFailed {
		t.Fatalf("results: %+v", ar.TargetResults)
	}
	recs, _ := svc.Audit.List(context.Background())
	foundFailed := false
	for _, rec := range recs {
		if rec.Outcome == audit.OutcomeFailed && rec.TargetProject == "p_b" {
			foundFailed = true
		}
		if rec.CorrelationID != ar.CorrelationID {
			t.Fatalf("correlation id not threaded: %+v", rec)
		}
	}
	if !foundFailed {
		t.Fatalf("no failed audit entry for p_b: %+v", recs)
	}
}

func TestCriticalRequiresConfirmation(t *testing.T) {
	u := newUpstream(t)
	svc := newService(t, u, true)
	ops := []mutation.Operation{{
		OperationID: "op1",
		Action:      "project.delete",
		Params:      map[string]any{"project_id": "p_a"},
	}}
	req := ApplyRequest{
		Actor:      "alice",
		Targets:    []target.Input{{ProjectID: "p_a"}},
		Operations: ops,
	}

	pr := previewOK(t, svc, PreviewRequest{Actor: "alice", Targets: req.Targets, Operations: ops})
	if pr.RiskLevel != mutation.RiskHigh {
		t.Fatalf("risk: %s", pr.RiskLevel)
	}
	req.PlanID, req.PlanHash = pr.PlanID, pr.PlanHash

	resp := svc.Apply(context.Background(), req)
	er, ok := resp.(ErrorResponse)
	if !ok || er.Error.Code != mutation.CodeConfirmRequired {
		t.Fatalf("apply without token: %+v", resp)
	}
	if u.callCount() != 0 {
		t.Fatalf("gate failure must not call upstream")
	}

	issued := svc.ConfirmIssue(context.Background(), ConfirmIssueRequest{PlanHash: pr.PlanHash})
	ci, ok := issued.(ConfirmIssueResponse)
	if !ok {
		t.Fatalf("issue: %+v", issued)
	}
	req.ConfirmationToken = ci.Token
	resp = svc.Apply(context.Background(), req)
	ar, ok := resp.(ApplyResponse)
	if !ok || ar.Status != mutation.StatusSuccess {
		t.Fatalf("apply with token: %+v", resp)
	}
	if u.callCount() != 1 {
		t.Fatalf("upstream calls: %d", u.callCount())
	}
	// The management key serves project.* calls.
	if got := u.calls[0].Header.Get("X-Appwrite-Key"); got != "key-mgmt" {
		t.Fatalf("management key not used: %s", got)
	}
}

func TestWrongPlanTokenRejected(t *testing.T) {
	u := newUpstream(t)
	svc := newService(t, u, true)
	ops := []mutation.Operation{{
		OperationID: "op1",
		Action:      "project.delete",
		Params:      map[string]any{"project_id": "p_a"},
	}}
	pr := previewOK(t, svc, PreviewRequest{Actor: "alice",
		Targets: []target.Input{{ProjectID: "p_a"}}, Operations: ops})

	issued := svc.ConfirmIssue(context.Background(), ConfirmIssueRequest{PlanHash: "other-hash"}).(ConfirmIssueResponse)
	resp := svc.Apply(context.Background(), ApplyRequest{
		Actor:             "alice",
		Targets:           []target.Input{{ProjectID: "p_a"}},
		Operations:        ops,
		PlanID:            pr.PlanID,
		PlanHash:          pr.PlanHash,
		ConfirmationToken: issued.Token,
	})
	er, ok := resp.(ErrorResponse)
	if !ok || er.Error.Code != mutation.CodeInvalidConfirmToken {
		t.Fatalf("resp: %+v", resp)
	}
	if u.callCount() != 0 {
		t.Fatalf("upstream calls: %d", u.callCount())
	}
}

func TestPlanTamperRejected(t *testing.T) {
	u := newUpstream(t)
	svc := newService(t, u, false)
	pr := previewOK(t, svc, PreviewRequest{Actor: "alice",
		Targets: []target.Input{{ProjectID: "p_a"}}, Operations: dbCreateOps()})

	resp := svc.Apply(context.Background(), ApplyRequest{
		Actor:      "alice",
		Targets:    []target.Input{{ProjectID: "p_a"}},
		Operations: dbCreateOps(),
		PlanID:     pr.PlanID,
		PlanHash:   pr.PlanHash + "x",
	})
	er, ok := resp.(ErrorResponse)
	if !ok || er.Error.Code != mutation.CodePlanMismatch {
		t.Fatalf("resp: %+v", resp)
	}
	if u.callCount() != 0 {
		t.Fatalf("upstream calls: %d", u.callCount())
	}
}

func TestScopeDowngradeBlocked(t *testing.T) {
	u := newUpstream(t)
	svc := newService(t, u, false)
	pr := previewOK(t, svc, PreviewRequest{
		Actor:   "alice",
		Targets: []target.Input{{ProjectID: "p_a"}},
		Operations: []mutation.Operation{{
			OperationID:    "op1",
			Action:         "auth.users.create",
			Params:         map[string]any{"user_id": "u1", "email": "x@y"},
			RequiredScopes: []string{"users.read"},
		}},
	})
	got := strings.Join(pr.RequiredScopes, ",")
	if !strings.Contains(got, "users.read") || !strings.Contains(got, "users.write") {
		t.Fatalf("scopes: %v", pr.RequiredScopes)
	}
}

func TestClientCredentialsIgnored(t *testing.T) {
	u := newUpstream(t)
	svc := newService(t, u, false)
	creds := json.RawMessage(`{"api_key":"attacker-key","endpoint":"https://evil.example"}`)
	pr := previewOK(t, svc, PreviewRequest{
		Actor:       "alice",
		Targets:     []target.Input{{ProjectID: "p_a"}},
		Operations:  dbCreateOps(),
		Credentials: creds,
	})
	resp := svc.Apply(context.Background(), ApplyRequest{
		Actor:       "alice",
		Targets:     []target.Input{{ProjectID: "p_a"}},
		Operations:  dbCreateOps(),
		PlanID:      pr.PlanID,
		PlanHash:    pr.PlanHash,
		Credentials: creds,
	})
	if _, ok := resp.(ApplyResponse); !ok {
		t.Fatalf("apply: %+v", resp)
	}
	if got := u.calls[0].Header.Get("X-Appwrite-Key"); got != "key-a" {
		t.Fatalf("configured key not used: %s", got)
	}
}

func TestPreviewValidation(t *testing.T) {
	u := newUpstream(t)
	svc := newService(t, u, false)

	resp := svc.Preview(context.Background(), PreviewRequest{
		Actor: "alice", Operations: dbCreateOps(),
	})
	er, ok := resp.(ErrorResponse)
	if !ok || er.Error.Code != mutation.CodeValidation {
		t.Fatalf("no targets: %+v", resp)
	}

	resp = svc.Preview(context.Background(), PreviewRequest{
		Targets: []target.Input{{ProjectID: "p_a"}}, Operations: dbCreateOps(),
	})
	er, ok = resp.(ErrorResponse)
	if !ok || er.Error.Code != mutation.CodeValidation {
		t.Fatalf("no actor: %+v", resp)
	}
}

func TestAliasTargetsResolve(t *testing.T) {
	u := newUpstream(t)
	svc := newService(t, u, false)
	resp := svc.ResolveTargets(context.Background(), ResolveTargetsRequest{
		Targets: []target.Input{{Alias: "alpha"}},
	})
	rr, ok := resp.(ResolveTargetsResponse)
	if !ok {
		t.Fatalf("resolve: %+v", resp)
	}
	if rr.Source != target.SourceExplicit || rr.ResolvedTargets[0].ProjectID != "p_a" {
		t.Fatalf("resolved: %+v", rr)
	}
}

func TestCapabilitiesAndTransports(t *testing.T) {
	u := newUpstream(t)
	svc := newService(t, u, false)

	resp := svc.Capabilities(context.Background(), CapabilitiesRequest{})
	cr, ok := resp.(CapabilitiesResponse)
	if !ok {
		t.Fatalf("capabilities: %+v", resp)
	}
	if cr.Capabilities.ScopeCatalogVersion == "" || len(cr.Capabilities.Domains["database"]) == 0 {
		t.Fatalf("capabilities: %+v", cr.Capabilities)
	}
	if len(cr.Capabilities.SupportedTransports) != 2 {
		t.Fatalf("transports: %v", cr.Capabilities.SupportedTransports)
	}

	resp = svc.Capabilities(context.Background(), CapabilitiesRequest{Transport: "grpc"})
	er, ok := resp.(ErrorResponse)
	if !ok || er.Error.Code != mutation.CodeCapabilityUnavailable {
		t.Fatalf("unsupported transport: %+v", resp)
	}
	if len(er.Error.SupportedTransports) != 2 || er.Error.Remediation == "" {
		t.Fatalf("error detail: %+v", er.Error)
	}
}

func TestContextGet(t *testing.T) {
	u := newUpstream(t)
	svc := newService(t, u, false)
	resp := svc.ContextGet(context.Background()).(ContextResponse)
	if len(resp.KnownProjectIDs) != 2 || resp.AliasCount != 1 {
		t.Fatalf("context: %+v", resp)
	}
}

func TestScopeCatalogGet(t *testing.T) {
	u := newUpstream(t)
	svc := newService(t, u, false)
	resp := svc.ScopeCatalog(context.Background()).(ScopeCatalogResponse)
	if resp.CatalogVersion == "" {
		t.Fatalf("catalog: %+v", resp)
	}
	if got := resp.Actions["database.create"].RequiredScopes; len(got) != 1 || got[0] != "databases.write" {
		t.Fatalf("database.create: %v", got)
	}
}

func TestConfirmIssueTTLBounds(t *testing.T) {
	u := newUpstream(t)
	svc := newService(t, u, false)
	for _, ttl := range []int{-5, 10, 9000} {
		resp := svc.ConfirmIssue(context.Background(), ConfirmIssueRequest{PlanHash: "h", TTLSeconds: ttl})
		if er, ok := resp.(ErrorResponse); !ok || er.Error.Code != mutation.CodeValidation {
			t.Fatalf("ttl %d: %+v", ttl, resp)
		}
	}
	resp := svc.ConfirmIssue(context.Background(), ConfirmIssueRequest{PlanHash: "h", TTLSeconds: 60})
	if _, ok := resp.(ConfirmIssueResponse); !ok {
		t.Fatalf("valid ttl: %+v", resp)
	}
}

func TestResponsesNeverLeakSecrets(t *testing.T) {
	u := newUpstream(t)
	svc := newService(t, u, false)
	pr := previewOK(t, svc, PreviewRequest{Actor: "alice",
		Targets: []target.Input{{ProjectID: "p_a"}}, Operations: dbCreateOps()})
	resp := svc.Apply(context.Background(), ApplyRequest{
		Actor:      "alice",
		Targets:    []target.Input{{ProjectID: "p_a"}},
		Operations: dbCreateOps(),
		PlanID:     pr.PlanID,
		PlanHash:   pr.PlanHash,
	})
	data, _ := json.Marshal(resp)
	if strings.Contains(strings.ToLower(string(data)), "sk_live") {
		t.Fatalf("response leaked a secret: %s", data)
	}
}
