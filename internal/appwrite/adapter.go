// Package appwrite translates planned operations into requests against
// the Appwrite REST API and executes them with per-attempt timeouts and
// conditional retry. Request building is pure; only the execution loop
// touches the network.
package appwrite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"appwritectl/internal/metrics"
	"appwritectl/internal/mutation"
	"appwritectl/internal/redact"
)

// ResponseFormat is fixed by the upstream contract and must be sent
// byte-exact.
const ResponseFormat = "1.8.0"

// Defaults for the execution loop.
const (
	DefaultTimeout       = 10 * time.Second
	DefaultMaxRetries    = 2
	DefaultRetryBase     = 250 * time.Millisecond
	DefaultRetryMaxDelay = 5 * time.Second
)

// DefaultRetryStatuses is the retryable-trigger status set.
func DefaultRetryStatuses() map[int]bool {
	return map[int]bool{408: true, 425: true, 429: true, 500: true, 502: true, 503: true, 504: true}
}

// Adapter executes operations against Appwrite. Zero-value client and
// tuning fields fall back to the package defaults. LegacyUserUpdate is
// false in the zero value, which disables the legacy alias; New turns it
// on.
type Adapter struct {
	Client  *http.Client
	Timeout time.Duration
	// MaxRetries distinguishes unset (nil, use DefaultMaxRetries) from
	// an explicit 0, which disables retries entirely.
	MaxRetries       *int
	RetryBase        time.Duration
	RetryMaxDelay    time.Duration
	RetryStatuses    map[int]bool
	LegacyUserUpdate bool

	// sleep is swapped in tests; the default honors ctx cancellation.
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns an Adapter with default tuning and the legacy
// auth.users.update alias enabled.
func New() *Adapter {
	return &Adapter{LegacyUserUpdate: true}
}

// ExecuteOperation validates, builds, and runs one upstream request for
// op against the target project under auth. A nil error value means the
// 2xx response body (parsed, redacted by the caller) is in data.
func (a *Adapter) ExecuteOperation(ctx context.Context, targetProjectID string, op mutation.Operation, auth mutation.AuthContext, correlationID string) (map[string]any, *mutation.Error) {
	if !auth.Complete() {
		serr := mutation.NewError(mutation.CodeAuthContextRequired,
			"auth context is missing endpoint or api_key")
		serr.Remediation = "configure endpoint and api_key for the target project"
		return nil, serr
	}
	if op.Action == "auth.users.update" && !a.LegacyUserUpdate {
		serr := mutation.NewError(mutation.CodeValidation,
			"auth.users.update alias is disabled")
		serr.Remediation = "use an explicit auth.users.update.<field> action"
		return nil, serr
	}
	if serr := validateParams(op.Action, op.Params); serr != nil {
		return nil, serr
	}
	spec, serr := buildRequest(op.Action, op.Params)
	if serr != nil {
		return nil, serr
	}
	return a.execute(ctx, spec, op, auth, targetProjectID)
}

func (a *Adapter) execute(ctx context.Context, spec *requestSpec, op mutation.Operation, auth mutation.AuthContext, targetProjectID string) (map[string]any, *mutation.Error) {
	retryable := spec.Method == http.MethodGet || op.IdempotencyKey != ""
	maxAttempts := a.maxRetries() + 1
	started := time.Now()
	defer func() {
		metrics.UpstreamRequestDuration.WithLabelValues(op.Action).Observe(time.Since(started).Seconds())
	}()

	var lastErr *mutation.Error
	var lastTrigger bool
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			metrics.UpstreamRetriesTotal.WithLabelValues(op.Action).Inc()
			if err := a.backoff(ctx, attempt-1); err != nil {
				break
			}
		}
		data, serr, trigger := a.attempt(ctx, spec, auth, targetProjectID)
		if serr == nil {
			metrics.UpstreamRequestsTotal.WithLabelValues(op.Action, "success").Inc()
			return data, nil
		}
		lastErr, lastTrigger = serr, trigger
		if !trigger || !retryable {
			break
		}
	}
	metrics.UpstreamRequestsTotal.WithLabelValues(op.Action, "failure").Inc()
	if lastErr == nil {
		lastErr = mutation.NewError(mutation.CodeInternal, "request aborted")
	}
	lastErr.Retryable = lastTrigger
	return nil, lastErr
}

// attempt runs a single request. The bool reports whether the failure
// was a retryable trigger (retryable status, timeout, or transport
// error).
func (a *Adapter) attempt(ctx context.Context, spec *requestSpec, auth mutation.AuthContext, targetProjectID string) (map[string]any, *mutation.Error, bool) {
	attemptCtx, cancel := context.WithTimeout(ctx, a.timeout())
	defer cancel()

	req, err := a.newHTTPRequest(attemptCtx, spec, auth, targetProjectID)
	if err != nil {
		return nil, mutation.NewError(mutation.CodeInternal, "request build failed: "+err.Error()), false
	}
	resp, err := a.client().Do(req)
	if err != nil {
		msg := "request failed: " + redact.String(err.Error())
		if errors.Is(err, context.DeadlineExceeded) || attemptCtx.Err() != nil {
			msg = "request timed out"
		}
		return nil, mutation.NewError(mutation.CodeInternal, msg), true
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, mutation.NewError(mutation.CodeInternal, "response read failed: "+redact.String(err.Error())), true
	}
	parsed := parseBody(body)
	if resp.StatusCode/100 == 2 {
		return parsed, nil, false
	}
	msg := fmt.Sprintf("Appwrite %d", resp.StatusCode)
	if upstream, ok := parsed["message"].(string); ok && upstream != "" {
		msg = fmt.Sprintf("Appwrite %d: %s", resp.StatusCode, upstream)
	}
	return nil, mutation.NewError(mutation.CodeInternal, redact.String(msg)), a.retryStatuses()[resp.StatusCode]
}

func (a *Adapter) newHTTPRequest(ctx context.Context, spec *requestSpec, auth mutation.AuthContext, targetProjectID string) (*http.Request, error) {
	endpoint := strings.TrimRight(auth.Endpoint, "/") + spec.Path
	if len(spec.Query) > 0 {
		endpoint += "?" + spec.Query.Encode()
	}

	var reqBody io.Reader
	contentType := ""
	switch {
	case spec.multipart():
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		part, err := w.CreateFormFile("code", "code.tar.gz")
		if err != nil {
			return nil, err
		}
		if _, err := part.Write([]byte(spec.MultipartCode)); err != nil {
			return nil, err
		}
		for k, v := range spec.MultipartFields {
			if err := w.WriteField(k, v); err != nil {
				return nil, err
			}
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		reqBody = &buf
		contentType = w.FormDataContentType()
	case spec.Body != nil:
		data, err := json.Marshal(spec.Body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, spec.Method, endpoint, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Appwrite-Key", auth.APIKey)
	req.Header.Set("X-Appwrite-Response-Format", ResponseFormat)
	if !spec.OmitProjectHeader {
		req.Header.Set("X-Appwrite-Project", targetProjectID)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	} else if !spec.multipart() && spec.Method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// backoff sleeps min(base·2^(n−1), max) + jitter[0, base/4) after failed
// attempt n, before attempt n+1. The sleep honors ctx cancellation.
func (a *Adapter) backoff(ctx context.Context, n int) error {
	base := a.retryBase()
	delay := base << (n - 1)
	if maxDelay := a.retryMaxDelay(); delay > maxDelay {
		delay = maxDelay
	}
	if quarter := int64(base) / 4; quarter > 0 {
		delay += time.Duration(rand.Int63n(quarter))
	}
	return a.doSleep(ctx, delay)
}

func (a *Adapter) doSleep(ctx context.Context, d time.Duration) error {
	if a.sleep != nil {
		return a.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseBody(body []byte) map[string]any {
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{}
	}
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err == nil {
		return parsed
	}
	return map[string]any{"raw": string(body)}
}

func (a *Adapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

func (a *Adapter) timeout() time.Duration {
	if a.Timeout > 0 {
		return a.Timeout
	}
	return DefaultTimeout
}

func (a *Adapter) maxRetries() int {
	if a.MaxRetries == nil {
		return DefaultMaxRetries
	}
	if *a.MaxRetries < 0 {
		return 0
	}
	return *a.MaxRetries
}

func (a *Adapter) retryBase() time.Duration {
	if a.RetryBase > 0 {
		return a.RetryBase
	}
	return DefaultRetryBase
}

func (a *Adapter) retryMaxDelay() time.Duration {
	if a.RetryMaxDelay > 0 {
		return a.RetryMaxDelay
	}
	return DefaultRetryMaxDelay
}

func (a *Adapter) retryStatuses() map[int]bool {
	if a.RetryStatuses != nil {
		return a.RetryStatuses
	}
	return DefaultRetryStatuses()
}
