// Package httpx renders API failures as the JSON error envelope shared by every route:
// {"error", "message", "status", "request_id", "trace_id"} plus optional detail keys.
package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/pv-frame/api/internal/platform/requestctx"
)

const (
	codeLimit    = 80
	messageLimit = 512
	idLimit      = 80
)

// reservedKeys cannot be overwritten by details.
var reservedKeys = map[string]struct{}{
	"error": {}, "message": {}, "status": {}, "request_id": {}, "trace_id": {},
}

// Error is a client-facing failure: a stable machine code, a human message and the HTTP status.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

// NewError builds an Error. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clean(code, codeLimit),
		Message: clean(message, messageLimit),
		Status:  status,
	}
}

func (e Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// WithDetails returns a copy of e with extra top-level keys merged into the envelope.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	e.Details = maps.Clone(details)
	return e
}

// WriteError writes e with the request and trace ids found on ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, e Error) {
	if e.Status == 0 {
		e.Status = http.StatusInternalServerError
	}

	body := make(map[string]any, len(e.Details)+5)
	for k, v := range e.Details {
		if _, reserved := reservedKeys[k]; !reserved {
			body[k] = v
		}
	}
	body["error"] = e.Code
	body["message"] = e.Message
	body["status"] = e.Status
	if id := clean(middleware.GetReqID(ctx), idLimit); id != "" {
		body["request_id"] = id
	}
	if id := clean(requestctx.TraceID(ctx), idLimit); id != "" {
		body["trace_id"] = id
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(body)
}

func clean(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
