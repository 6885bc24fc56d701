package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"
)

func jsonLogger(buf *bytes.Buffer, level string) *Logger {
	return NewWithWriter(&Config{Level: level, Format: "json"}, "idresolver", buf)
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	line := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("invalid json log line %q: %v", line, err)
	}
	return m
}

func TestNewDefault(t *testing.T) {
	l := NewDefault("test-svc")
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	if l.service != "test-svc" {
		t.Errorf("expected service 'test-svc', got %q", l.service)
	}
}

func TestNewWithWriter_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	jsonLogger(&buf, "info").Info("bound", Fields(FieldLogin, "alice", FieldRealm, "corp"))

	m := decodeLine(t, &buf)
	if m["message"] != "bound" {
		t.Errorf("expected message 'bound', got %v", m["message"])
	}
	if m[FieldService] != "idresolver" {
		t.Errorf("expected service field, got %v", m[FieldService])
	}
	if m[FieldLogin] != "alice" || m[FieldRealm] != "corp" {
		t.Errorf("expected login/realm fields, got %v", m)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := jsonLogger(&buf, "warn")
	l.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered at warn level, got %q", buf.String())
	}
	l.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("expected warn to be written, got %q", buf.String())
	}
}

func TestNewInvalidLevel(t *testing.T) {
	var buf bytes.Buffer
	l := jsonLogger(&buf, "invalid-level")
	l.Debug("hidden")
	l.Info("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("expected fallback to info level, got %q", buf.String())
	}
}

func TestNewFromEnv(t *testing.T) {
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("LOG_FORMAT", "json")
	defer os.Unsetenv("LOG_LEVEL")
	defer os.Unsetenv("LOG_FORMAT")

	if l := NewFromEnv("env-svc"); l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	cl := jsonLogger(&buf, "info").WithComponent("cache")
	if cl.service != "idresolver" {
		t.Errorf("service should be preserved, got %q", cl.service)
	}
	cl.Info("hit")
	if m := decodeLine(t, &buf); m[FieldComponent] != "cache" {
		t.Errorf("expected component=cache, got %v", m[FieldComponent])
	}
}

func TestWithContext_SpanAndRequestID(t *testing.T) {
	tid, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	sid, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	ctx = ContextWithRequestID(ctx, "req-7")

	var buf bytes.Buffer
	jsonLogger(&buf, "info").WithContext(ctx).Info("x")
	m := decodeLine(t, &buf)
	if m[FieldTraceID] != tid.String() {
		t.Errorf("expected trace id %s, got %v", tid, m[FieldTraceID])
	}
	if m[FieldSpanID] != sid.String() {
		t.Errorf("expected span id %s, got %v", sid, m[FieldSpanID])
	}
	if m[FieldRequestID] != "req-7" {
		t.Errorf("expected request id, got %v", m[FieldRequestID])
	}
}

func TestWithContext_Empty(t *testing.T) {
	var buf bytes.Buffer
	jsonLogger(&buf, "info").WithContext(context.Background()).Info("x")
	m := decodeLine(t, &buf)
	if _, ok := m[FieldTraceID]; ok {
		t.Error("expected no trace id without a span")
	}
}

func TestWithFieldsAndError(t *testing.T) {
	var buf bytes.Buffer
	jsonLogger(&buf, "info").
		WithFields(map[string]interface{}{FieldResolverSpec: "sqlresolver.users"}).
		WithError(errors.New("boom")).
		Error("lookup failed")
	m := decodeLine(t, &buf)
	if m[FieldResolverSpec] != "sqlresolver.users" {
		t.Errorf("expected resolver_spec field, got %v", m)
	}
	if m["error"] != "boom" {
		t.Errorf("expected error field, got %v", m["error"])
	}
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&Config{Level: "info", Format: "console", NoColor: true}, "idresolver", &buf).Info("hello")
	out := buf.String()
	if !strings.Contains(out, "[IDR][INF]") {
		t.Errorf("expected service and level tags, got %q", out)
	}
	if !strings.Contains(out, "hello") {
		t.Errorf("expected message, got %q", out)
	}
}

func TestNop(t *testing.T) {
	Nop().Error("nothing happens")
}

func TestInit(t *testing.T) {
	prev := globalLogger
	defer func() { globalLogger = prev }()

	Init(&Config{Level: "info", Format: "json", ServiceName: "idr"})
	if gl := GetGlobalLogger(); gl == nil || gl.service != "idr" {
		t.Fatalf("expected global logger for service idr, got %+v", gl)
	}
}

func TestGetGlobalLoggerDefault(t *testing.T) {
	prev := globalLogger
	defer func() { globalLogger = prev }()

	globalLogger = nil
	if GetGlobalLogger() == nil {
		t.Fatal("expected default global logger to be created")
	}
}

func TestConfigApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	if cfg.Level != "info" || cfg.Format != "console" || cfg.Output != "stderr" || !cfg.Timestamp {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Level: "info", Format: "json", Output: "stdout"}, false},
		{"pretty", Config{Level: "debug", Format: FormatPretty, Output: "stderr"}, false},
		{"bad level", Config{Level: "loud", Format: "json", Output: "stdout"}, true},
		{"bad format", Config{Level: "info", Format: "xml", Output: "stdout"}, true},
		{"bad output", Config{Level: "info", Format: "json", Output: "file"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegisterAndGet(t *testing.T) {
	defer Reset()
	l := Nop()
	Register("resolution", l)
	if Get("resolution") != l {
		t.Error("expected registered logger")
	}
	if Get("unregistered") == nil {
		t.Error("expected fallback logger")
	}
}

func TestRegisterDefaults(t *testing.T) {
	defer Reset()
	RegisterDefaults("cache", "gateway")
	n := 0
	named.Range(func(_, _ any) bool {
		n++
		return true
	})
	if n != 2 {
		t.Errorf("expected 2 registered loggers, got %d", n)
	}
}

func TestFields(t *testing.T) {
	tests := []struct {
		name string
		kvs  []interface{}
		want int
	}{
		{"pairs", []interface{}{"a", 1, "b", 2}, 2},
		{"odd count drops tail", []interface{}{"a", 1, "b"}, 1},
		{"non-string key skipped", []interface{}{1, "x", "b", 2}, 1},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fields(tt.kvs...); len(got) != tt.want {
				t.Errorf("expected %d fields, got %d (%v)", tt.want, len(got), got)
			}
		})
	}
}

func TestHelperFields(t *testing.T) {
	ef := ErrorFields("bind", errors.New("x"))
	if ef[FieldOperation] != "bind" || ef[FieldError] != "x" {
		t.Errorf("unexpected ErrorFields: %v", ef)
	}
	rf := ResolverFields("memory.main", "user_id")
	if rf[FieldResolverSpec] != "memory.main" || rf[FieldOperation] != "user_id" {
		t.Errorf("unexpected ResolverFields: %v", rf)
	}
	df := DurationFields("list", 1500*time.Millisecond)
	if df[FieldDuration] != int64(1500) {
		t.Errorf("expected 1500ms, got %v", df[FieldDuration])
	}
	mf := MergeWithError(nil, errors.New("y"))
	if mf[FieldError] != "y" {
		t.Errorf("unexpected MergeWithError: %v", mf)
	}
}
