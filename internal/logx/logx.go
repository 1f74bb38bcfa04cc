package logx

import (
	"context"

	"pkt.systems/eclkernel/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	sessionKey contextKey = iota
	msgKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithSession annotates the logger with the session id if present.
func WithSession(ctx context.Context, sessionID schema.SessionID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if sessionID != "" {
		if current, ok := ctx.Value(sessionKey).(schema.SessionID); ok && current == sessionID {
			return log
		}
		log = log.With("session", sessionID)
	}
	return log
}

// WithSessionMsg annotates the logger with session and parent message identifiers.
func WithSessionMsg(ctx context.Context, sessionID schema.SessionID, msgID string) pslog.Logger {
	log := WithSession(ctx, sessionID)
	if msgID != "" {
		if current, ok := ctx.Value(msgKey).(string); ok && current == msgID {
			return log
		}
		log = log.With("msg_id", msgID)
	}
	return log
}

// WithWorkunit annotates the logger with workunit metadata when available.
func WithWorkunit(log pslog.Logger, id schema.WorkunitID, state schema.WorkunitState) pslog.Logger {
	if id != "" {
		log = log.With("wuid", id)
	}
	if state != "" {
		log = log.With("wu_state", state)
	}
	return log
}

// ContextWithSession stores the session marker on the context for log de-duplication.
func ContextWithSession(ctx context.Context, sessionID schema.SessionID) context.Context {
	if ctx == nil || sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, sessionID)
}

// ContextWithMsg stores the message marker on the context for log de-duplication.
func ContextWithMsg(ctx context.Context, msgID string) context.Context {
	if ctx == nil || msgID == "" {
		return ctx
	}
	return context.WithValue(ctx, msgKey, msgID)
}

// ContextWithSessionMsgLogger attaches the logger and session/message markers to the context.
func ContextWithSessionMsgLogger(ctx context.Context, log pslog.Logger, sessionID schema.SessionID, msgID string) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithMsg(ContextWithSession(ctx, sessionID), msgID)
}
