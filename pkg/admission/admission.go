// Package admission implements the gateway's front door (spec §4.G):
// request ID assignment, agent_kind validation, per-agent max_tokens
// clamping, sliding-window rate limiting keyed by (client_ip,
// agent_kind), and a hashed-content audit log. Grounded on the
// evaluator repo's internal/adapter/httpserver/middleware.go and
// internal/app/router.go rate-limit group, adapted from ULID-based
// request IDs to google/uuid (kept consistent with the rest of the
// gateway, see DESIGN.md) and from per-IP to per-(ip, agent_kind)
// limiting.
package admission

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/kunal/llm-gateway/pkg/apierr"
	"github.com/kunal/llm-gateway/pkg/metrics"
	"github.com/kunal/llm-gateway/pkg/types"
	"github.com/kunal/llm-gateway/pkg/usage"
)

type requestIDKey struct{}

// WithRequestID stamps a request with a UUIDv4 request ID if it
// doesn't already carry a client-supplied one (spec §4.G stage 1).
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFrom extracts the request ID stamped by WithRequestID.
func RequestIDFrom(r *http.Request) string {
	if v, ok := r.Context().Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// PeekAgentKind reads just enough of a POST body to learn its
// agent_kind, stamps it onto X-Agent-Kind, and restores the body so
// the handler's own decode still sees every byte. It must run ahead of
// the rate limiter: stage 2 (agent_kind validation) happens once the
// body is decoded, but spec §4.G stage 4 (rate limiting) needs to key
// on that same agent_kind, and nothing upstream of the handler would
// otherwise know it. A single-object body and a submit-batch array
// body are both handled; a batch's first item's agent_kind stands in
// for the whole request.
func PeekAgentKind(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && r.Method == http.MethodPost {
			raw, err := io.ReadAll(r.Body)
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(raw))
			if err == nil {
				if kind := peekAgentKind(raw); kind != "" {
					r.Header.Set("X-Agent-Kind", kind)
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

func peekAgentKind(raw []byte) string {
	var obj struct {
		AgentKind string `json:"agent_kind"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.AgentKind != "" {
		return obj.AgentKind
	}
	var batch []struct {
		AgentKind string `json:"agent_kind"`
	}
	if json.Unmarshal(raw, &batch) == nil && len(batch) > 0 {
		return batch[0].AgentKind
	}
	return ""
}

// ValidateAgentKind checks the request's declared agent_kind against
// the closed enum (spec §4.G stage 2), returning an AgentUnknown
// taxonomy error when it is not recognized.
func ValidateAgentKind(raw string, requestID string) (types.AgentKind, error) {
	kind, err := types.ParseAgentKind(raw)
	if err != nil {
		return "", apierr.New(apierr.KindAgentUnknown, err.Error()).WithRequestID(requestID)
	}
	return kind, nil
}

// ClampTokens enforces the per-agent max_tokens ceiling (spec §4.G
// stage 3). A missing ceiling for the agent kind means no clamp.
func ClampTokens(requested int, perAgentCeiling map[string]int, kind types.AgentKind) int {
	ceiling := perAgentCeiling[string(kind)]
	return usage.ClampMaxTokens(requested, ceiling)
}

// Limiter wraps go-chi/httprate keyed by (client_ip, agent_kind),
// generalizing the evaluator repo's per-IP httprate.LimitByIP group.
type Limiter struct {
	middleware func(http.Handler) http.Handler
	window     time.Duration
}

// NewLimiter builds a Limiter allowing `max` requests per window per
// (client_ip, agent_kind) pair.
func NewLimiter(max int, window time.Duration) *Limiter {
	return &Limiter{
		middleware: httprate.Limit(max, window, httprate.WithKeyFuncs(ipAgentKey)),
		window:     window,
	}
}

// Handler wraps next with the rate-limit middleware. On rejection it
// emits the gateway's own RateLimited taxonomy body instead of
// httprate's default plaintext response.
func (l *Limiter) Handler(next http.Handler) http.Handler {
	limited := l.middleware(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &statusCapture{ResponseWriter: w}
		limited.ServeHTTP(rw, r)
		if rw.status == http.StatusTooManyRequests && !rw.wroteBody {
			metrics.RecordRateLimitRejection(r.Header.Get("X-Agent-Kind"))
			retryAfter := int(l.window.Seconds())
			if retryAfter <= 0 {
				retryAfter = 1
			}
			WriteTaxonomyError(w, apierr.New(apierr.KindRateLimited, "rate limit exceeded").
				WithRequestID(RequestIDFrom(r)).WithRetryAfter(retryAfter))
		}
	})
}

// statusCapture intercepts WriteHeader so Handler can detect httprate's
// 429 before any body bytes reach the real ResponseWriter, and swaps
// in the gateway's taxonomy-shaped body instead.
type statusCapture struct {
	http.ResponseWriter
	status    int
	wroteBody bool
}

func (s *statusCapture) WriteHeader(code int) {
	s.status = code
	if code != http.StatusTooManyRequests {
		s.ResponseWriter.WriteHeader(code)
	}
}

func (s *statusCapture) Write(b []byte) (int, error) {
	if s.status == http.StatusTooManyRequests {
		s.wroteBody = false
		return len(b), nil // swallow httprate's default body
	}
	s.wroteBody = true
	return s.ResponseWriter.Write(b)
}

func ipAgentKey(r *http.Request) (string, error) {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return ip + "|" + r.Header.Get("X-Agent-Kind"), nil
}

// Audit is the structured, privacy-safe record of one admitted or
// rejected request (spec §4.G stage 5: "logs a hashed digest of the
// message content, never raw content").
type Audit struct {
	RequestID   string
	AgentKind   string
	ClientIP    string
	ContentHash string
	Outcome     string
	ErrKind     string
}

// DigestMessages hashes role+content pairs with SHA-256 so the audit
// log can correlate repeated prompts without retaining their text.
func DigestMessages(messages []usage.Message) string {
	h := sha256.New()
	for _, m := range messages {
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// LogAudit emits one structured audit record.
func LogAudit(log *slog.Logger, a Audit) {
	log.Info("admission_audit",
		"request_id", a.RequestID,
		"agent_kind", a.AgentKind,
		"client_ip", a.ClientIP,
		"content_hash", a.ContentHash,
		"outcome", a.Outcome,
		"err_kind", a.ErrKind,
	)
}

type errorBody struct {
	Error struct {
		Kind      string `json:"kind"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

// WriteTaxonomyError writes an apierr.Error as the gateway's standard
// JSON error body with the status code spec §7 maps it to.
func WriteTaxonomyError(w http.ResponseWriter, err *apierr.Error) {
	status := StatusFor(err.Kind)
	if err.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(err.RetryAfter))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body := errorBody{}
	body.Error.Kind = err.Kind.String()
	body.Error.Message = err.Error()
	body.Error.RequestID = err.RequestID
	_ = json.NewEncoder(w).Encode(body)
}

// StatusFor maps an error taxonomy kind to its HTTP status (spec §7).
func StatusFor(k apierr.Kind) int {
	switch k {
	case apierr.KindAgentUnknown:
		return http.StatusBadRequest
	case apierr.KindRateLimited:
		return http.StatusTooManyRequests
	case apierr.KindRejectedFull, apierr.KindBackpressureRetry:
		return http.StatusServiceUnavailable
	case apierr.KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case apierr.KindUpstreamUnavailable, apierr.KindUpstreamBadResponse:
		return http.StatusBadGateway
	case apierr.KindCancelled:
		return http.StatusConflict
	case apierr.KindInternalInvariantViolation:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}
