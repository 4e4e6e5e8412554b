package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	contractx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/contract"
)

func TestReporterLogsScope(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(&buf, Config{})
	r := NewReporter(&l)

	r.Report(context.Background(), contractx.Scope{
		Operation:     "send_message",
		NegotiationID: "neg-1",
		GroupID:       "grp-1",
	}, errors.New("disk full"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %q (%v)", buf.String(), err)
	}
	if entry["level"] != "warn" || entry["error"] != "disk full" {
		t.Fatalf("unexpected entry: %#v", entry)
	}
	if entry["negotiation_id"] != "neg-1" || entry["group_id"] != "grp-1" || entry["operation"] != "send_message" {
		t.Fatalf("scope missing from entry: %#v", entry)
	}
	if _, ok := entry["vendor_id"]; ok {
		t.Fatalf("empty vendor id should be omitted: %#v", entry)
	}
}

func TestReporterIgnoresNilError(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(&buf, Config{})
	NewReporter(&l).Report(context.Background(), contractx.Scope{Operation: "x"}, nil)
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
}

func TestNewRespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(&buf, Config{})
	l.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line written at info level: %q", buf.String())
	}

	l = New(&buf, Config{Debug: true})
	l.Debug().Msg("shown")
	if buf.Len() == 0 {
		t.Fatalf("debug line missing at debug level")
	}
}
