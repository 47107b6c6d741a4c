package core

import "context"

// sensitiveFieldKeys are the field map keys a SanitizingLogger never
// passes through verbatim, per spec.md §3's rule that team secrets
// never appear in logs, audit entries, or error messages.
var sensitiveFieldKeys = map[string]bool{
	"secret":   true,
	"token":    true,
	"password": true,
}

const redactedPlaceholder = "[REDACTED]"

// SanitizingLogger wraps a Logger and redacts any field whose key is
// literally "secret", "token", or "password" (case-sensitive, matching
// the exact struct-tag-derived keys this module's callers use) before
// delegating to the wrapped logger. It implements ComponentAwareLogger
// so it composes with the teacher's WithComponent pattern.
type SanitizingLogger struct {
	inner Logger
}

// NewSanitizingLogger wraps inner. A nil inner wraps a NoOpLogger.
func NewSanitizingLogger(inner Logger) *SanitizingLogger {
	if inner == nil {
		inner = &NoOpLogger{}
	}
	return &SanitizingLogger{inner: inner}
}

func sanitize(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if sensitiveFieldKeys[k] {
			out[k] = redactedPlaceholder
			continue
		}
		out[k] = v
	}
	return out
}

func (l *SanitizingLogger) Info(msg string, fields map[string]interface{}) {
	l.inner.Info(msg, sanitize(fields))
}

func (l *SanitizingLogger) Error(msg string, fields map[string]interface{}) {
	l.inner.Error(msg, sanitize(fields))
}

func (l *SanitizingLogger) Warn(msg string, fields map[string]interface{}) {
	l.inner.Warn(msg, sanitize(fields))
}

func (l *SanitizingLogger) Debug(msg string, fields map[string]interface{}) {
	l.inner.Debug(msg, sanitize(fields))
}

func (l *SanitizingLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.inner.InfoWithContext(ctx, msg, sanitize(fields))
}

func (l *SanitizingLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.inner.ErrorWithContext(ctx, msg, sanitize(fields))
}

func (l *SanitizingLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.inner.WarnWithContext(ctx, msg, sanitize(fields))
}

func (l *SanitizingLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.inner.DebugWithContext(ctx, msg, sanitize(fields))
}

// WithComponent returns a component-scoped logger when the wrapped
// logger supports it, still sanitized; otherwise it returns l unchanged
// since there is no component context to attach.
func (l *SanitizingLogger) WithComponent(component string) Logger {
	if aware, ok := l.inner.(ComponentAwareLogger); ok {
		return &SanitizingLogger{inner: aware.WithComponent(component)}
	}
	return l
}
