package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"adflow/internal/backend"
	"adflow/internal/briefing"
	"adflow/internal/metrics"
	"adflow/internal/preview"
	"adflow/internal/run"
)

// streamRun feeds one submission into ch and closes it when Submit returns.
// Sends give up once ctx is canceled so an abandoned run never blocks.
func streamRun(ctx context.Context, runner *run.Runner, req run.Request, gen int, ch chan<- tea.Msg) {
	defer close(ch)
	runner.Submit(ctx, req, func(update run.Update) {
		select {
		case ch <- runUpdateMsg{gen: gen, update: update}:
		case <-ctx.Done():
		}
	})
}

func waitRunMsg(ch <-chan tea.Msg, gen int) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return runClosedMsg{gen: gen}
		}
		return msg
	}
}

func (m model) healthCmd() tea.Cmd {
	client := m.client
	ctx := m.ctx
	meter := m.metrics
	log := m.log
	attempts := m.cfg.healthAttempts
	interval := m.cfg.healthInterval
	return func() tea.Msg {
		err := client.WaitReady(ctx, attempts, interval, func(attempt int, err error) {
			meter.HealthProbes.WithLabelValues(metrics.Outcome(err)).Inc()
			if err != nil {
				log.Debug("backend not ready", "attempt", attempt, "err", err)
			}
		})
		return healthDoneMsg{err: err}
	}
}

func deliveryCmd(ctx context.Context, runner *run.Runner, sess backend.Session, gen int) tea.Cmd {
	return func() tea.Msg {
		meta, err := runner.WaitDelivery(ctx, sess, nil)
		return deliveryDoneMsg{gen: gen, meta: meta, err: err}
	}
}

func (m model) previewCmd() tea.Cmd {
	if m.session == nil {
		return nil
	}
	client := m.client
	ctx := m.ctx
	sess := *m.session
	gen := m.runGen
	return func() tea.Msg {
		artifact, err := client.Download(ctx, sess, true)
		if err != nil {
			return previewDoneMsg{gen: gen, err: fmt.Errorf("preview download: %w", err)}
		}
		payload := artifact.Data
		if artifact.SignedURL != "" {
			payload, err = client.Fetch(ctx, artifact.SignedURL)
			if err != nil {
				return previewDoneMsg{gen: gen, err: fmt.Errorf("preview fetch: %w", err)}
			}
		}
		return previewDoneMsg{gen: gen, variations: preview.Normalize(payload)}
	}
}

func (m model) downloadCmd(dir string) tea.Cmd {
	if m.session == nil {
		return nil
	}
	client := m.client
	ctx := m.ctx
	sess := *m.session
	name := "adflow-" + sess.SessionID + ".json"
	if m.delivery != nil && strings.TrimSpace(m.delivery.Filename) != "" {
		name = filepath.Base(m.delivery.Filename)
	}
	return func() tea.Msg {
		artifact, err := client.Download(ctx, sess, false)
		if err != nil {
			return actionDoneMsg{err: fmt.Errorf("download: %w", err)}
		}
		if artifact.SignedURL != "" {
			return actionDoneMsg{status: "download link: " + artifact.SignedURL}
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return actionDoneMsg{err: err}
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, artifact.Data, 0o644); err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{status: fmt.Sprintf("saved %s (%s)", path, humanize.Bytes(uint64(len(artifact.Data))))}
	}
}

// uploadCmd validates the image locally before anything goes on the wire.
func (m model) uploadCmd(kind, path, description string) tea.Cmd {
	client := m.client
	ctx := m.ctx
	sess := backend.Session{UserID: client.UserID(), AppName: client.AppName()}
	if m.session != nil {
		sess = *m.session
	}
	return func() tea.Msg {
		img, err := briefing.ReadImage(path)
		if err != nil {
			return uploadDoneMsg{kind: kind, err: err}
		}
		ref, err := client.UploadReferenceImage(ctx, sess, kind, img.Path, img.MimeType, img.Data)
		if err != nil {
			return uploadDoneMsg{kind: kind, err: err}
		}
		ref.UserDescription = strings.TrimSpace(description)
		return uploadDoneMsg{kind: kind, ref: ref, size: img.Size()}
	}
}

func briefCmd(path string) tea.Cmd {
	return func() tea.Msg {
		form, err := briefing.LoadFile(path)
		return briefLoadedMsg{path: path, form: form, err: err}
	}
}
