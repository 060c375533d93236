package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(Options{BaseURL: srv.URL + "/api/", HTTPClient: srv.Client()})
	c.newID = func() string { return "proposed-id" }
	return c
}

func TestPreflightBlockedOn422(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/run_preflight" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["text"] != "brief" {
			t.Errorf("unexpected body %v", body)
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"detail":{"message":"bad","errors":["x"]}}`)
	})
	pre, err := c.RunPreflight(context.Background(), "brief", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pre == nil || !pre.Blocked || pre.Message != "bad" {
		t.Fatalf("expected blocked preflight, got %+v", pre)
	}
	if pre.Notice() != "bad\n[\"x\"]" {
		t.Fatalf("unexpected notice %q", pre.Notice())
	}
}

func TestPreflightDefaultMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"detail":{}}`)
	})
	pre, _ := c.RunPreflight(context.Background(), "brief", nil)
	if pre == nil || pre.Message != "Preflight validation failed." {
		t.Fatalf("expected default message, got %+v", pre)
	}
}

func TestPreflightSoftFails(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	pre, err := c.RunPreflight(context.Background(), "brief", nil)
	if err != nil || pre != nil {
		t.Fatalf("expected soft failure, got %+v %v", pre, err)
	}

	c = New(Options{BaseURL: "http://127.0.0.1:1/api"})
	pre, err = c.RunPreflight(context.Background(), "brief", nil)
	if err != nil || pre != nil {
		t.Fatalf("expected soft failure on transport error, got %+v %v", pre, err)
	}
}

func TestPreflightSuccessCarriesReferences(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ReferenceImages map[string]struct {
				ID              string `json:"id"`
				UserDescription string `json:"user_description"`
			} `json:"reference_images"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.ReferenceImages["product"].ID != "img-1" || body.ReferenceImages["product"].UserDescription != "blue bottle" {
			t.Errorf("missing reference images: %+v", body)
		}
		_, _ = io.WriteString(w, `{"initial_state":{"format":"Feed"},"plan_summary":{"steps":2}}`)
	})
	pre, err := c.RunPreflight(context.Background(), "brief", References{
		"product": {ID: "img-1", UserDescription: "blue bottle"},
	})
	if err != nil || pre == nil || pre.Blocked {
		t.Fatalf("unexpected result %+v %v", pre, err)
	}
	if pre.InitialState["format"] != "Feed" {
		t.Fatalf("unexpected initial state %v", pre.InitialState)
	}
}

func TestCreateSessionUsesServerID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/apps/app/users/u_999/sessions/proposed-id" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		if strings.TrimSpace(string(raw)) != "{}" {
			t.Errorf("expected empty initial state, got %s", raw)
		}
		_, _ = io.WriteString(w, `{"userId":"u_999","id":"server-id","appName":"app"}`)
	})
	sess, err := c.CreateSession(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.SessionID != "server-id" || sess.UserID != "u_999" || sess.AppName != "app" {
		t.Fatalf("unexpected session %+v", sess)
	}
}

func TestCreateSessionHTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
	})
	_, err := c.CreateSession(context.Background(), map[string]any{"a": 1})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if !strings.Contains(err.Error(), "http 503") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestStartRunPostsMessageAndStreams(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			AppName    string `json:"appName"`
			UserID     string `json:"userId"`
			SessionID  string `json:"sessionId"`
			NewMessage struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
				Role string `json:"role"`
			} `json:"newMessage"`
			Streaming bool `json:"streaming"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.SessionID != "s1" || body.NewMessage.Role != "user" || body.NewMessage.Parts[0].Text != "hi" || body.Streaming {
			t.Errorf("unexpected run body %+v", body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {}\n\n")
	})
	rc, err := c.StartRun(context.Background(), Session{UserID: "u_999", SessionID: "s1", AppName: "app"}, "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()
	raw, _ := io.ReadAll(rc)
	if string(raw) != "data: {}\n\n" {
		t.Fatalf("unexpected stream %q", raw)
	}
}

func TestWaitReadyExhausts(t *testing.T) {
	var hits int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	})
	var seen []int
	err := c.WaitReady(context.Background(), 3, time.Millisecond, func(attempt int, err error) {
		seen = append(seen, attempt)
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 3 || len(seen) != 3 {
		t.Fatalf("expected 3 probes, got %d/%d", hits, len(seen))
	}
}

func TestWaitReadySucceedsAfterFailures(t *testing.T) {
	var hits int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/docs" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if atomic.AddInt32(&hits, 1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	if err := c.WaitReady(context.Background(), 5, time.Millisecond, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDownloadSignedURLAndRaw(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("session_id") != "s1" {
			t.Errorf("missing session query: %s", r.URL.RawQuery)
		}
		if r.URL.Query().Get("inline") == "1" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"signed_url":"https://cdn/x.json"}`)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = io.WriteString(w, "RAW")
	})
	sess := Session{UserID: "u_999", SessionID: "s1"}
	link, err := c.Download(context.Background(), sess, true)
	if err != nil || link.SignedURL != "https://cdn/x.json" {
		t.Fatalf("expected signed url, got %+v %v", link, err)
	}
	raw, err := c.Download(context.Background(), sess, false)
	if err != nil || string(raw.Data) != "RAW" || raw.SignedURL != "" {
		t.Fatalf("expected raw bytes, got %+v %v", raw, err)
	}
}

func TestFetchSignedURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `[{"formato":"Feed"}]`)
	}))
	defer srv.Close()
	c := New(Options{BaseURL: "http://127.0.0.1:1/api"})

	payload, err := c.Fetch(context.Background(), srv.URL+"/ads.json")
	if err != nil || string(payload) != `[{"formato":"Feed"}]` {
		t.Fatalf("unexpected payload %q %v", payload, err)
	}
	var httpErr *HTTPError
	if _, err := c.Fetch(context.Background(), srv.URL+"/missing"); !errors.As(err, &httpErr) || httpErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404 HTTPError, got %v", err)
	}
}

func TestDeliveryMeta(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/delivery/final/meta" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"ok":true,"filename":"ads.json","size":2048}`)
	})
	meta, err := c.DeliveryMeta(context.Background(), Session{UserID: "u", SessionID: "s"})
	if err != nil || !meta.OK || meta.Filename != "ads.json" || meta.Size != 2048 {
		t.Fatalf("unexpected meta %+v %v", meta, err)
	}
}

func TestUploadReferenceImage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("bad multipart: %v", err)
		}
		if r.FormValue("type") != "product" || r.FormValue("session_id") != "s1" || r.FormValue("user_id") != "u_999" {
			t.Errorf("unexpected fields %v", r.MultipartForm.Value)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file: %v", err)
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "bottle.png" || string(data) != "PNGDATA" {
			t.Errorf("unexpected file %s %q", header.Filename, data)
		}
		_, _ = io.WriteString(w, `{"id":"img-1","signed_url":"https://cdn/img-1","labels":["bottle"]}`)
	})
	ref, err := c.UploadReferenceImage(context.Background(), Session{UserID: "u_999", SessionID: "s1"}, "product", "/tmp/bottle.png", "image/png", []byte("PNGDATA"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.ID != "img-1" || ref.Type != "product" || len(ref.Labels) != 1 {
		t.Fatalf("unexpected reference %+v", ref)
	}
}
