package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"erca.gov.et/portal/internal/ids"
	"erca.gov.et/portal/internal/obs"
)

// ErrInvalidFilter reports a malformed Query filter.
var ErrInvalidFilter = errors.New("audit: invalid filter")

type ctxKey string

const (
	requestIDKey ctxKey = "audit_request_id"
	clientKey    ctxKey = "audit_client"
)

type client struct {
	ip        string
	userAgent string
}

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithClient attaches caller IP and user agent for entries that omit them.
func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientKey, client{ip: ip, userAgent: userAgent})
}

func clientFromContext(ctx context.Context) client {
	if ctx == nil {
		return client{}
	}
	c, _ := ctx.Value(clientKey).(client)
	return c
}

// Logger is the append-only audit sink.
type Logger struct {
	store     Store
	publisher Publisher
	now       func() time.Time
}

// Option configures Logger.
type Option func(*Logger)

// WithPublisher forwards every stored entry to p.
func WithPublisher(p Publisher) Option {
	return func(l *Logger) { l.publisher = p }
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(l *Logger) {
		if fn != nil {
			l.now = fn
		}
	}
}

func NewLogger(store Store, opts ...Option) (*Logger, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	l := &Logger{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Record appends one entry. Failures are logged and counted but never
// returned. The write outlives cancellation of ctx because the action it
// describes has already happened.
func (l *Logger) Record(ctx context.Context, e Entry) {
	ctx = context.WithoutCancel(ctx)
	e.Action = strings.TrimSpace(e.Action)
	if e.Action == "" {
		obs.Logger().Error().Msg("audit entry without action dropped")
		obs.AuditWriteFailures.Inc()
		return
	}
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = l.now().UTC()
	}
	if e.RequestID == "" {
		e.RequestID = RequestIDFromContext(ctx)
	}
	c := clientFromContext(ctx)
	if e.IPAddress == "" {
		e.IPAddress = c.ip
	}
	if e.UserAgent == "" {
		e.UserAgent = c.userAgent
	}
	if e.Detail == nil {
		e.Detail = map[string]any{}
	}

	ev := obs.Logger().Info().
		Str("type", "audit").
		Str("event", e.Action).
		Str("audit_id", e.ID).
		Str("entity_type", e.EntityType).
		Str("entity_id", e.EntityID)
	if e.RequestID != "" {
		ev = ev.Str("request_id", e.RequestID)
	}
	if e.OfficialID != nil {
		ev = ev.Str("official_id", *e.OfficialID)
	}
	ev.Msg("audit")

	if err := l.store.AppendAuditEntry(ctx, e); err != nil {
		obs.AuditWriteFailures.Inc()
		obs.Logger().Error().Err(err).Str("event", e.Action).Str("audit_id", e.ID).Msg("audit write failed")
		return
	}
	if l.publisher != nil {
		if err := l.publisher.Publish(ctx, e); err != nil {
			obs.Logger().Warn().Err(err).Str("event", e.Action).Str("audit_id", e.ID).Msg("audit publish failed")
		}
	}
}

// Query returns entries most-recent-first, bounded by limit.
func (l *Logger) Query(ctx context.Context, f Filter, limit int) ([]Entry, error) {
	if !f.Since.IsZero() && !f.Until.IsZero() && f.Until.Before(f.Since) {
		return nil, fmt.Errorf("%w: until precedes since", ErrInvalidFilter)
	}
	entries, err := l.store.QueryAuditEntries(ctx, f, NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	return entries, nil
}
