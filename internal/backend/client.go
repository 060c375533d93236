// Package backend talks to the agent pipeline HTTP API: liveness, preflight,
// session bootstrap, run streaming, delivery and reference uploads.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultAppName = "app"
	DefaultUserID  = "u_999"

	defaultRequestTimeout = 30 * time.Second
	errorBodyChars        = 240
)

// ErrUnavailable is returned by WaitReady once every liveness probe failed.
var ErrUnavailable = errors.New("backend unavailable")

// HTTPError is a non-2xx response from one backend call.
type HTTPError struct {
	Op     string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s http %d: %s", e.Op, e.Status, compactSingleLine(e.Body, errorBodyChars))
}

// Session identifies one conversation on the agent runtime.
type Session struct {
	UserID    string `json:"userId"`
	SessionID string `json:"id"`
	AppName   string `json:"appName"`
}

// Preflight is the result of a successful or blocked briefing validation.
type Preflight struct {
	Blocked      bool
	Message      string
	Errors       json.RawMessage
	InitialState map[string]any
	PlanSummary  json.RawMessage
}

// Notice renders a blocked preflight as chat text.
func (p *Preflight) Notice() string {
	if p == nil {
		return ""
	}
	if len(p.Errors) == 0 {
		return p.Message + "\n"
	}
	return p.Message + "\n" + string(p.Errors)
}

// ReferenceImage is an uploaded reference picture attached to the preflight.
type ReferenceImage struct {
	ID              string   `json:"id"`
	SignedURL       string   `json:"signed_url,omitempty"`
	Labels          []string `json:"labels,omitempty"`
	Type            string   `json:"-"`
	UserDescription string   `json:"-"`
}

// References maps a reference kind ("character", "product") to its upload.
type References map[string]ReferenceImage

type Options struct {
	BaseURL        string
	AppName        string
	UserID         string
	RequestTimeout time.Duration
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

type Client struct {
	baseURL string
	appName string
	userID  string
	http    *http.Client
	stream  *http.Client
	log     *slog.Logger
	newID   func() string
}

func New(opts Options) *Client {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	// The run stream is bounded only by the server closing it.
	stream := &http.Client{Transport: hc.Transport}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		appName: nullCoalesce(opts.AppName, DefaultAppName),
		userID:  nullCoalesce(opts.UserID, DefaultUserID),
		http:    hc,
		stream:  stream,
		log:     log.With("component", "backend"),
		newID:   uuid.NewString,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }
func (c *Client) AppName() string { return c.appName }
func (c *Client) UserID() string  { return c.userID }

// Ready probes the liveness endpoint once.
func (c *Client) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/docs", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("liveness probe failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{Op: "docs", Status: resp.StatusCode}
	}
	return nil
}

// WaitReady polls Ready at a fixed interval. onAttempt, when set, observes
// every probe. Exhaustion returns an error wrapping ErrUnavailable.
func (c *Client) WaitReady(ctx context.Context, attempts int, interval time.Duration, onAttempt func(attempt int, err error)) error {
	if attempts <= 0 {
		attempts = 1
	}
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		last = c.Ready(ctx)
		if onAttempt != nil {
			onAttempt(attempt, last)
		}
		if last == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	c.log.Warn("backend not ready", "attempts", attempts, "err", last)
	return fmt.Errorf("%w after %d attempts: %v", ErrUnavailable, attempts, last)
}

// RunPreflight validates a brief. A 422 yields a blocked Preflight. Any other
// failure is soft: it is logged and (nil, nil) is returned so the caller can
// continue with an empty initial state.
func (c *Client) RunPreflight(ctx context.Context, text string, refs References) (*Preflight, error) {
	body := map[string]any{"text": text}
	if len(refs) > 0 {
		images := map[string]any{}
		for kind, ref := range refs {
			images[kind] = map[string]any{"id": ref.ID, "user_description": ref.UserDescription}
		}
		body["reference_images"] = images
	}
	status, payload, err := c.postJSON(ctx, "/run_preflight", body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Warn("preflight request failed, continuing without it", "err", err)
		return nil, nil
	}
	if status == http.StatusUnprocessableEntity {
		var parsed struct {
			Detail struct {
				Message string          `json:"message"`
				Errors  json.RawMessage `json:"errors"`
			} `json:"detail"`
		}
		_ = json.Unmarshal(payload, &parsed)
		return &Preflight{
			Blocked: true,
			Message: nullCoalesce(parsed.Detail.Message, "Preflight validation failed."),
			Errors:  compactJSON(parsed.Detail.Errors),
		}, nil
	}
	if status < 200 || status >= 300 {
		c.log.Warn("preflight rejected, continuing without it", "status", status, "body", compactSingleLine(string(payload), errorBodyChars))
		return nil, nil
	}
	var parsed struct {
		InitialState map[string]any  `json:"initial_state"`
		PlanSummary  json.RawMessage `json:"plan_summary"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		c.log.Warn("preflight returned non-json payload", "err", err)
		return nil, nil
	}
	return &Preflight{InitialState: parsed.InitialState, PlanSummary: parsed.PlanSummary}, nil
}

// CreateSession proposes a fresh session id; the server's answer wins.
func (c *Client) CreateSession(ctx context.Context, initialState map[string]any) (Session, error) {
	if initialState == nil {
		initialState = map[string]any{}
	}
	proposed := c.newID()
	path := fmt.Sprintf("/apps/%s/users/%s/sessions/%s",
		url.PathEscape(c.appName), url.PathEscape(c.userID), url.PathEscape(proposed))
	status, payload, err := c.postJSON(ctx, path, initialState)
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	if status < 200 || status >= 300 {
		return Session{}, &HTTPError{Op: "create session", Status: status, Body: string(payload)}
	}
	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return Session{}, fmt.Errorf("create session: non-json payload: %w", err)
	}
	sess.UserID = nullCoalesce(sess.UserID, c.userID)
	sess.SessionID = nullCoalesce(sess.SessionID, proposed)
	sess.AppName = nullCoalesce(sess.AppName, c.appName)
	return sess, nil
}

// StartRun posts a user message and returns the SSE response body. The caller
// closes it.
func (c *Client) StartRun(ctx context.Context, sess Session, text string) (io.ReadCloser, error) {
	body := map[string]any{
		"appName":   sess.AppName,
		"userId":    sess.UserID,
		"sessionId": sess.SessionID,
		"newMessage": map[string]any{
			"parts": []map[string]string{{"text": text}},
			"role":  "user",
		},
		"streaming": false,
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run_sse", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("run request failed on /run_sse: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &HTTPError{Op: "run_sse", Status: resp.StatusCode, Body: string(payload)}
	}
	return resp.Body, nil
}

// DeliveryMeta describes the final artifact of a session once it exists.
type DeliveryMeta struct {
	OK       bool           `json:"ok"`
	Filename string         `json:"filename,omitempty"`
	Size     int64          `json:"size,omitempty"`
	Extra    map[string]any `json:"-"`
}

func (c *Client) DeliveryMeta(ctx context.Context, sess Session) (DeliveryMeta, error) {
	payload, err := c.get(ctx, "delivery meta", "/delivery/final/meta", sessionQuery(sess, false))
	if err != nil {
		return DeliveryMeta{}, err
	}
	var meta DeliveryMeta
	if err := json.Unmarshal(payload, &meta); err != nil {
		return DeliveryMeta{}, fmt.Errorf("delivery meta: non-json payload: %w", err)
	}
	_ = json.Unmarshal(payload, &meta.Extra)
	return meta, nil
}

// Artifact is a downloaded deliverable: either a signed URL or raw bytes.
type Artifact struct {
	SignedURL   string
	ContentType string
	Data        []byte
}

// Download fetches the final artifact. JSON answers carrying signed_url are
// returned as links; anything else is returned as bytes.
func (c *Client) Download(ctx context.Context, sess Session, inline bool) (Artifact, error) {
	endpoint := c.baseURL + "/delivery/final/download?" + sessionQuery(sess, inline).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Artifact{}, err
	}
	resp, err := c.stream.Do(req)
	if err != nil {
		return Artifact{}, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Artifact{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Artifact{}, &HTTPError{Op: "download", Status: resp.StatusCode, Body: string(payload)}
	}
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		var link struct {
			SignedURL string `json:"signed_url"`
		}
		if err := json.Unmarshal(payload, &link); err == nil && link.SignedURL != "" {
			return Artifact{SignedURL: link.SignedURL, ContentType: contentType}, nil
		}
	}
	return Artifact{ContentType: contentType, Data: payload}, nil
}

// Fetch resolves a signed URL returned by Download.
func (c *Client) Fetch(ctx context.Context, signedURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signedURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signed url request failed: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Op: "signed url", Status: resp.StatusCode, Body: string(payload)}
	}
	return payload, nil
}

// UploadReferenceImage sends one image as multipart form data.
func (c *Client) UploadReferenceImage(ctx context.Context, sess Session, kind, filename, mimeType string, data []byte) (ReferenceImage, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(filename)))
	header.Set("Content-Type", mimeType)
	part, err := form.CreatePart(header)
	if err != nil {
		return ReferenceImage{}, err
	}
	if _, err := part.Write(data); err != nil {
		return ReferenceImage{}, err
	}
	fields := [][2]string{{"type", kind}, {"user_id", sess.UserID}, {"session_id", sess.SessionID}}
	for _, field := range fields {
		if field[1] == "" {
			continue
		}
		if err := form.WriteField(field[0], field[1]); err != nil {
			return ReferenceImage{}, err
		}
	}
	if err := form.Close(); err != nil {
		return ReferenceImage{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/reference-image", &body)
	if err != nil {
		return ReferenceImage{}, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	resp, err := c.http.Do(req)
	if err != nil {
		return ReferenceImage{}, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return ReferenceImage{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ReferenceImage{}, &HTTPError{Op: "upload", Status: resp.StatusCode, Body: string(payload)}
	}
	var ref ReferenceImage
	if err := json.Unmarshal(payload, &ref); err != nil {
		return ReferenceImage{}, fmt.Errorf("upload returned non-json payload: %w", err)
	}
	ref.Type = kind
	return ref, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any) (int, []byte, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed on %s: %w", path, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, payload, nil
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Op: op, Status: resp.StatusCode, Body: string(payload)}
	}
	return payload, nil
}

func sessionQuery(sess Session, inline bool) url.Values {
	q := url.Values{}
	q.Set("user_id", sess.UserID)
	q.Set("session_id", sess.SessionID)
	if inline {
		q.Set("inline", "1")
	}
	return q
}

func compactJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

func nullCoalesce(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func compactSingleLine(value string, limit int) string {
	line := strings.Join(strings.Fields(value), " ")
	if limit > 3 && len(line) > limit {
		return line[:limit-3] + "..."
	}
	return line
}
