package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsAreExposed(t *testing.T) {
	m := New()
	m.Frames.Add(3)
	m.MalformedFrames.Inc()
	m.Retries.WithLabelValues("create_session").Inc()
	m.Runs.WithLabelValues(Outcome(nil)).Inc()

	if got := testutil.ToFloat64(m.Frames); got != 3 {
		t.Fatalf("expected 3 frames, got %v", got)
	}
	if got := testutil.ToFloat64(m.Retries.WithLabelValues("create_session")); got != 1 {
		t.Fatalf("expected 1 retry, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"adflow_stream_frames_total 3",
		"adflow_stream_malformed_frames_total 1",
		`adflow_runs_total{outcome="ok"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected %q in exposition:\n%s", want, body)
		}
	}
}

func TestOutcome(t *testing.T) {
	cases := map[string]error{
		"ok":       nil,
		"canceled": context.Canceled,
		"error":    errors.New("boom"),
	}
	for want, err := range cases {
		if got := Outcome(err); got != want {
			t.Fatalf("%v: expected %s, got %s", err, want, got)
		}
	}
}
