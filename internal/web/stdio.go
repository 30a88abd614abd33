package web

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"appwritectl/internal/service"
)

// maxFrameBytes bounds a single stdio frame.
const maxFrameBytes = 4 << 20

// frame is one stdio request: the tool name plus its request payload.
type frame struct {
	Tool    string          `json:"tool"`
	Request json.RawMessage `json:"request,omitempty"`
}

// RunStdio serves newline-delimited JSON frames until EOF or ctx
// cancellation. One response line per non-blank request line; blank
// lines are skipped.
func RunStdio(ctx context.Context, svc *service.Service, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)
	enc := json.NewEncoder(w)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var f frame
		if err := json.Unmarshal([]byte(line), &f); err != nil {
			if err := enc.Encode(map[string]any{
				"status":  "FAILED",
				"summary": "frame is not valid JSON",
				"error":   map[string]any{"code": "VALIDATION_ERROR", "message": err.Error(), "retryable": false},
			}); err != nil {
				return err
			}
			continue
		}
		resp := svc.Dispatch(ctx, f.Tool, f.Request)
		if err := enc.Encode(resp); err != nil {
			slog.Error("stdio write failed", "error", err)
			return err
		}
	}
	return scanner.Err()
}
