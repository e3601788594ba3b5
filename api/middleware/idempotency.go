package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/settlement-engine/api/responses"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	pkgredis "github.com/angelmondragon/settlement-engine/pkg/redis"
)

const (
	IdempotencyHeader = "Idempotency-Key"

	intentReplayTTL     = 24 * time.Hour
	settlementReplayTTL = 7 * 24 * time.Hour
	inFlightTTL         = 2 * time.Minute
)

// ReplayStore holds claimed keys and the responses recorded under them.
type ReplayStore interface {
	pkgredis.IdempotencyStore
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// replayRoutes lists the mutating endpoints that demand an Idempotency-Key.
// Templates use chi syntax; any {param} segment matches one path segment.
// Anything that moves money keeps its replay for a week.
var replayRoutes = map[string]time.Duration{
	"/api/v1/checkout/intents":                           intentReplayTTL,
	"/api/v1/wallet/topups/intents":                      intentReplayTTL,
	"/api/v1/refund-requests":                            intentReplayTTL,
	"/api/v1/checkout":                                   settlementReplayTTL,
	"/api/v1/wallet/topups":                              settlementReplayTTL,
	"/api/admin/v1/orders/{orderId}/refund":              settlementReplayTTL,
	"/api/admin/v1/refund-requests/{requestId}/decision": settlementReplayTTL,
}

type replayEntry struct {
	Pending     bool   `json:"pending,omitempty"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency makes the POST endpoints in replayRoutes safe to retry. The
// first request claims the key; a retry with the same body gets the recorded
// response back, a retry with a different body is rejected, and a retry that
// races the first request gets a conflict. 5xx responses release the key.
func Idempotency(store ReplayStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, guarded := replayTTL(r)
			if !guarded || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if clientKey == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, IdempotencyHeader+" header required"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fingerprint := digest(body)
			key := store.IdempotencyKey(UserIDFromContext(ctx)+"|"+r.Method+"|"+r.URL.Path, clientKey)

			claim, _ := json.Marshal(replayEntry{Pending: true, RequestHash: fingerprint})
			claimed, err := store.SetNX(ctx, key, string(claim), inFlightTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				replayExisting(ctx, store, logg, w, key, fingerprint)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)
			remember(ctx, store, logg, key, ttl, fingerprint, capture)
		})
	}
}

func replayExisting(ctx context.Context, store ReplayStore, logg *logger.Logger, w http.ResponseWriter, key, fingerprint string) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "idempotent request expired while retrying; retry again"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency key"))
		return
	}
	var entry replayEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode idempotency record"))
		return
	}
	switch {
	case entry.RequestHash != fingerprint:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with a different request body"))
	case entry.Pending:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is still in progress"))
	default:
		if entry.ContentType != "" {
			w.Header().Set("Content-Type", entry.ContentType)
		}
		w.Header().Set("Idempotent-Replay", "true")
		w.WriteHeader(entry.Status)
		_, _ = w.Write(entry.Body)
	}
}

func remember(ctx context.Context, store ReplayStore, logg *logger.Logger, key string, ttl time.Duration, fingerprint string, capture *responseCapture) {
	status := capture.statusCode()
	if status >= http.StatusInternalServerError {
		if err := store.Del(ctx, key); err != nil && logg != nil {
			logg.Error(ctx, "release idempotency key", err)
		}
		return
	}
	raw, err := json.Marshal(replayEntry{
		RequestHash: fingerprint,
		Status:      status,
		ContentType: capture.Header().Get("Content-Type"),
		Body:        capture.body.Bytes(),
	})
	if err == nil {
		err = store.Set(ctx, key, string(raw), ttl)
	}
	if err != nil && logg != nil {
		logg.Error(ctx, "record idempotent response", err)
	}
}

func digest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func replayTTL(r *http.Request) (time.Duration, bool) {
	if r.Method != http.MethodPost {
		return 0, false
	}
	path := r.URL.Path
	// Under r.Use the route context still holds the parent "/*" pattern, so
	// the concrete pattern is only trusted once it has no wildcard.
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" && !strings.HasSuffix(p, "/*") {
			path = p
		}
	}
	for tmpl, ttl := range replayRoutes {
		if templateMatches(tmpl, path) {
			return ttl, true
		}
	}
	return 0, false
}

func templateMatches(tmpl, path string) bool {
	want := strings.Split(strings.Trim(tmpl, "/"), "/")
	got := strings.Split(strings.Trim(path, "/"), "/")
	if len(want) != len(got) {
		return false
	}
	for i, seg := range want {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			if got[i] == "" {
				return false
			}
			continue
		}
		if seg != got[i] {
			return false
		}
	}
	return true
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
