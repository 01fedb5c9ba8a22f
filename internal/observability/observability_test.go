package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestInstrumentLocalFormats(t *testing.T) {
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))) })

	tests := []struct {
		format string
		check  func(t *testing.T, out string)
	}{
		{"text", func(t *testing.T, out string) {
			if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "key=value") {
				t.Errorf("unexpected text output: %q", out)
			}
		}},
		{"json", func(t *testing.T, out string) {
			var line map[string]any
			if err := json.Unmarshal([]byte(out), &line); err != nil {
				t.Fatalf("invalid json output %q: %v", out, err)
			}
			if line["msg"] != "hello" || line["key"] != "value" {
				t.Errorf("unexpected json output: %v", line)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			shutdown, err := instrument(context.Background(), &buf, slog.LevelInfo, tt.format, "")
			if err != nil {
				t.Fatal(err)
			}
			defer func() { _ = shutdown(context.Background()) }()

			slog.Debug("filtered")
			slog.Info("hello", "key", "value")

			if strings.Contains(buf.String(), "filtered") {
				t.Error("debug record not filtered at info level")
			}
			tt.check(t, strings.TrimSpace(buf.String()))
		})
	}
}

func TestInstrumentRejectsUnknownSettings(t *testing.T) {
	if _, err := instrument(context.Background(), &bytes.Buffer{}, slog.LevelInfo, "xml", ""); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := instrument(context.Background(), &bytes.Buffer{}, slog.LevelInfo, "text", "carrier-pigeon"); err == nil {
		t.Error("expected error for unknown exporter")
	}
}

func TestInstrumentWithStdoutExporter(t *testing.T) {
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))) })

	var buf bytes.Buffer
	shutdown, err := instrument(context.Background(), &buf, slog.LevelWarn, "text", "stdout")
	if err != nil {
		t.Fatal(err)
	}

	slog.Warn("exported")
	if !strings.Contains(buf.String(), "exported") {
		t.Errorf("local handler missed record: %q", buf.String())
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestFanoutEnabled(t *testing.T) {
	var infoBuf, errBuf bytes.Buffer
	f := fanout{
		slog.NewTextHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&errBuf, &slog.HandlerOptions{Level: slog.LevelError}),
	}

	logger := slog.New(f).With("component", "test").WithGroup("g")
	logger.Info("only-info", "k", 1)
	logger.Error("both")

	if !strings.Contains(infoBuf.String(), "only-info") || !strings.Contains(infoBuf.String(), "component=test") {
		t.Errorf("info handler output: %q", infoBuf.String())
	}
	if strings.Contains(errBuf.String(), "only-info") || !strings.Contains(errBuf.String(), "both") {
		t.Errorf("error handler output: %q", errBuf.String())
	}
	if slog.New(fanout{}).Enabled(context.Background(), slog.LevelError) {
		t.Error("empty fanout reports enabled")
	}
}

func TestSeverityFor(t *testing.T) {
	if severityFor(slog.LevelDebug) >= severityFor(slog.LevelInfo) ||
		severityFor(slog.LevelInfo) >= severityFor(slog.LevelWarn) ||
		severityFor(slog.LevelWarn) >= severityFor(slog.LevelError) {
		t.Error("severities not ordered")
	}
}
