package core

import (
	"context"
	"testing"
)

type capturingLogger struct {
	lastFields map[string]interface{}
}

func (c *capturingLogger) Info(msg string, fields map[string]interface{})  { c.lastFields = fields }
func (c *capturingLogger) Error(msg string, fields map[string]interface{}) { c.lastFields = fields }
func (c *capturingLogger) Warn(msg string, fields map[string]interface{})  { c.lastFields = fields }
func (c *capturingLogger) Debug(msg string, fields map[string]interface{}) { c.lastFields = fields }
func (c *capturingLogger) InfoWithContext(_ context.Context, msg string, fields map[string]interface{}) {
	c.lastFields = fields
}
func (c *capturingLogger) ErrorWithContext(_ context.Context, msg string, fields map[string]interface{}) {
	c.lastFields = fields
}
func (c *capturingLogger) WarnWithContext(_ context.Context, msg string, fields map[string]interface{}) {
	c.lastFields = fields
}
func (c *capturingLogger) DebugWithContext(_ context.Context, msg string, fields map[string]interface{}) {
	c.lastFields = fields
}

func TestSanitizingLoggerRedactsSensitiveKeys(t *testing.T) {
	inner := &capturingLogger{}
	l := NewSanitizingLogger(inner)

	l.Info("authenticating", map[string]interface{}{
		"team_slug": "T",
		"token":     "abc123",
		"secret":    "topsecret",
		"password":  "hunter2",
	})

	if inner.lastFields["team_slug"] != "T" {
		t.Fatalf("expected non-sensitive field to pass through, got %v", inner.lastFields["team_slug"])
	}
	for _, key := range []string{"token", "secret", "password"} {
		if inner.lastFields[key] != redactedPlaceholder {
			t.Fatalf("expected %s to be redacted, got %v", key, inner.lastFields[key])
		}
	}
}

func TestSanitizingLoggerPassesThroughNilFields(t *testing.T) {
	inner := &capturingLogger{}
	l := NewSanitizingLogger(inner)
	l.Warn("no fields", nil)
	if inner.lastFields != nil {
		t.Fatalf("expected nil fields to remain nil, got %v", inner.lastFields)
	}
}
