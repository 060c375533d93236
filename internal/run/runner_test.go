package run

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"adflow/internal/backend"
	"adflow/internal/conversation"
	"adflow/internal/retry"
)

type fakeBackend struct {
	preflight     *backend.Preflight
	preflightErr  error
	createErrs    []error
	createCalls   int
	initialState  map[string]any
	stream        string
	startCalls    int
	startErr      error
	metas         []backend.DeliveryMeta
	metaCalls     int
	preflightSeen int
}

func (f *fakeBackend) RunPreflight(ctx context.Context, text string, refs backend.References) (*backend.Preflight, error) {
	f.preflightSeen++
	return f.preflight, f.preflightErr
}

func (f *fakeBackend) CreateSession(ctx context.Context, initialState map[string]any) (backend.Session, error) {
	f.createCalls++
	f.initialState = initialState
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return backend.Session{}, err
		}
	}
	return backend.Session{UserID: "u_999", SessionID: "s1", AppName: "app"}, nil
}

func (f *fakeBackend) StartRun(ctx context.Context, sess backend.Session, text string) (io.ReadCloser, error) {
	f.startCalls++
	if f.startErr != nil {
		return nil, f.startErr
	}
	return io.NopCloser(strings.NewReader(f.stream)), nil
}

func (f *fakeBackend) DeliveryMeta(ctx context.Context, sess backend.Session) (backend.DeliveryMeta, error) {
	f.metaCalls++
	if len(f.metas) == 0 {
		return backend.DeliveryMeta{}, errors.New("404")
	}
	meta := f.metas[0]
	f.metas = f.metas[1:]
	return meta, nil
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry = retry.Policy{MaxAttempts: 3, MaxDuration: time.Second, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	cfg.DeliveryAttempts = 3
	cfg.DeliveryInterval = time.Millisecond
	return cfg
}

func collect(r *Runner, req Request) []Update {
	var updates []Update
	r.Submit(context.Background(), req, func(u Update) { updates = append(updates, u) })
	return updates
}

func lastFinished(t *testing.T, updates []Update) Finished {
	t.Helper()
	if len(updates) == 0 {
		t.Fatalf("no updates emitted")
	}
	fin, ok := updates[len(updates)-1].(Finished)
	if !ok {
		t.Fatalf("last update is %T, want Finished", updates[len(updates)-1])
	}
	for _, u := range updates[:len(updates)-1] {
		if _, dup := u.(Finished); dup {
			t.Fatalf("Finished emitted more than once")
		}
	}
	return fin
}

func TestSubmitStreamsEventsInOrder(t *testing.T) {
	fb := &fakeBackend{
		preflight: &backend.Preflight{InitialState: map[string]any{"formato_anuncio": "Feed"}},
		stream: strings.Join([]string{
			`data: {"author":"interactive_planner_agent","content":{"parts":[{"text":"Hello"}]}}`,
			``,
			`data: not json`,
			``,
			`data: {"author":"section_researcher","content":{"parts":[{"text":"Found 3 sites"}]}}`,
		}, "\n"),
	}
	r := NewRunner(fb, fastConfig(), nil, nil)
	updates := collect(r, Request{Text: "brief"})

	if _, ok := updates[0].(SessionReady); !ok {
		t.Fatalf("expected SessionReady first, got %T", updates[0])
	}
	var agents []string
	for _, u := range updates {
		if ev, ok := u.(EventReceived); ok {
			agents = append(agents, ev.Event.Agent)
		}
	}
	if strings.Join(agents, ",") != "interactive_planner_agent,section_researcher" {
		t.Fatalf("unexpected event order %v", agents)
	}
	fin := lastFinished(t, updates)
	if fin.Err != nil || fin.Frames != 3 || fin.Malformed != 1 {
		t.Fatalf("unexpected finish %+v", fin)
	}
	if fb.initialState["formato_anuncio"] != "Feed" {
		t.Fatalf("preflight initial state not forwarded: %v", fb.initialState)
	}
}

func TestSubmitBlockedPreflightCreatesNoSession(t *testing.T) {
	var sessionCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/run_preflight":
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = io.WriteString(w, `{"detail":{"message":"bad","errors":["x"]}}`)
		case strings.Contains(r.URL.Path, "/sessions/"):
			atomic.AddInt32(&sessionCalls, 1)
			_, _ = io.WriteString(w, `{"userId":"u_999","id":"s1","appName":"app"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := backend.New(backend.Options{BaseURL: srv.URL + "/api", HTTPClient: srv.Client()})
	r := NewRunner(client, fastConfig(), nil, nil)
	updates := collect(r, Request{Text: "brief"})

	if atomic.LoadInt32(&sessionCalls) != 0 {
		t.Fatalf("session must not be created after a blocked preflight")
	}
	blocked, ok := updates[0].(Blocked)
	if !ok {
		t.Fatalf("expected Blocked, got %T", updates[0])
	}
	conv := conversation.New()
	msg := conv.AddNotice("preflight", blocked.Message())
	if !strings.Contains(msg.Content, "bad") {
		t.Fatalf("expected notice to contain %q, got %q", "bad", msg.Content)
	}
	fin := lastFinished(t, updates)
	if !fin.Blocked || fin.Err != nil {
		t.Fatalf("unexpected finish %+v", fin)
	}
}

func TestSubmitRetriesSessionCreation(t *testing.T) {
	fb := &fakeBackend{
		createErrs: []error{errors.New("connection refused"), errors.New("connection refused"), nil},
		stream:     "data: {\"author\":\"plan_generator\"}\n\n",
	}
	cfg := fastConfig()
	cfg.Preflight = false
	r := NewRunner(fb, cfg, nil, nil)
	fin := lastFinished(t, collect(r, Request{Text: "brief"}))
	if fin.Err != nil {
		t.Fatalf("unexpected error %v", fin.Err)
	}
	if fb.createCalls != 3 || fb.preflightSeen != 0 {
		t.Fatalf("expected 3 create calls and no preflight, got %d/%d", fb.createCalls, fb.preflightSeen)
	}
}

func TestSubmitReportsRetryExhaustion(t *testing.T) {
	fb := &fakeBackend{startErr: errors.New("503")}
	sess := backend.Session{UserID: "u_999", SessionID: "s1", AppName: "app"}
	r := NewRunner(fb, fastConfig(), nil, nil)
	updates := collect(r, Request{Text: "again", Session: &sess})
	if len(updates) != 1 {
		t.Fatalf("expected only Finished, got %d updates", len(updates))
	}
	fin := lastFinished(t, updates)
	if fin.Err == nil || !strings.Contains(fin.Err.Error(), "503") {
		t.Fatalf("expected last error, got %v", fin.Err)
	}
	if fb.startCalls != 3 || fb.createCalls != 0 || fb.preflightSeen != 0 {
		t.Fatalf("unexpected calls start=%d create=%d preflight=%d", fb.startCalls, fb.createCalls, fb.preflightSeen)
	}
}

func TestSubmitCanceled(t *testing.T) {
	fb := &fakeBackend{createErrs: []error{errors.New("down"), errors.New("down"), errors.New("down")}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRunner(fb, fastConfig(), nil, nil)
	var fin Finished
	r.Submit(ctx, Request{Text: "brief"}, func(u Update) {
		if f, ok := u.(Finished); ok {
			fin = f
		}
	})
	if !errors.Is(fin.Err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", fin.Err)
	}
}

func TestWaitDeliveryPollsUntilOK(t *testing.T) {
	fb := &fakeBackend{metas: []backend.DeliveryMeta{{OK: false}, {OK: true, Filename: "ads.json"}}}
	r := NewRunner(fb, fastConfig(), nil, nil)
	var attempts []int
	meta, err := r.WaitDelivery(context.Background(), backend.Session{SessionID: "s1"}, func(n int) { attempts = append(attempts, n) })
	if err != nil || !meta.OK || meta.Filename != "ads.json" {
		t.Fatalf("unexpected result %+v %v", meta, err)
	}
	if len(attempts) != 2 || fb.metaCalls != 2 {
		t.Fatalf("expected 2 attempts, got %v", attempts)
	}
}

func TestWaitDeliveryGivesUp(t *testing.T) {
	fb := &fakeBackend{}
	r := NewRunner(fb, fastConfig(), nil, nil)
	_, err := r.WaitDelivery(context.Background(), backend.Session{SessionID: "s1"}, nil)
	if !errors.Is(err, ErrDeliveryPending) {
		t.Fatalf("expected ErrDeliveryPending, got %v", err)
	}
	if fb.metaCalls != 3 {
		t.Fatalf("expected 3 polls, got %d", fb.metaCalls)
	}
}
