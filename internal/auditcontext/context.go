package auditcontext

import (
	"context"
	"strings"
)

type ctxKey string

const (
	requestIDKey ctxKey = "audit_request_id"
	ipAddressKey ctxKey = "audit_ip_address"
	userAgentKey ctxKey = "audit_user_agent"
	actorTypeKey ctxKey = "audit_actor_type"
	actorIDKey   ctxKey = "audit_actor_id"
)

func WithRequestID(ctx context.Context, value string) context.Context {
	return withString(ctx, requestIDKey, value)
}

func RequestIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, requestIDKey)
}

func WithIPAddress(ctx context.Context, value string) context.Context {
	return withString(ctx, ipAddressKey, value)
}

func IPAddressFromContext(ctx context.Context) string {
	return stringFrom(ctx, ipAddressKey)
}

func WithUserAgent(ctx context.Context, value string) context.Context {
	return withString(ctx, userAgentKey, value)
}

func UserAgentFromContext(ctx context.Context) string {
	return stringFrom(ctx, userAgentKey)
}

// WithActor records who is performing the request, e.g. ("admin", "adm_42").
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	ctx = withString(ctx, actorTypeKey, actorType)
	return withString(ctx, actorIDKey, actorID)
}

func ActorFromContext(ctx context.Context) (string, string) {
	return stringFrom(ctx, actorTypeKey), stringFrom(ctx, actorIDKey)
}

func withString(ctx context.Context, key ctxKey, value string) context.Context {
	value = strings.TrimSpace(value)
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}
