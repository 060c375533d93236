package sse

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

// chunkedReader returns at most size bytes per Read.
type chunkedReader struct {
	data []byte
	size int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := c.size
	if n > len(c.data) {
		n = len(c.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, c.data[:n])
	c.data = c.data[n:]
	return n, nil
}

func collect(t *testing.T, raw string, chunkSize int) []Frame {
	t.Helper()
	var frames []Frame
	err := Stream(context.Background(), &chunkedReader{data: []byte(raw), size: chunkSize}, func(f Frame) {
		frames = append(frames, f)
	})
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	return frames
}

func TestStreamSplitsFramesAcrossAnyChunking(t *testing.T) {
	raw := strings.Join([]string{
		`data: {"author":"plan_generator"}`,
		``,
		`: keepalive comment`,
		`event: message`,
		`id: 7`,
		`data: {"a":1,`,
		`data:  "b":"ção"}`,
		``,
		`data:{"c":true}`,
		``,
		``,
	}, "\n")
	want := []string{
		`{"author":"plan_generator"}`,
		"{\"a\":1,\n \"b\":\"ção\"}",
		`{"c":true}`,
	}
	for size := 1; size <= len(raw); size++ {
		frames := collect(t, raw, size)
		if len(frames) != len(want) {
			t.Fatalf("chunk size %d: expected %d frames, got %d", size, len(want), len(frames))
		}
		for i, frame := range frames {
			if frame.Data != want[i] {
				t.Fatalf("chunk size %d frame %d: expected %q, got %q", size, i, want[i], frame.Data)
			}
		}
		if frames[1].Event != "message" || frames[1].ID != "7" {
			t.Fatalf("chunk size %d: expected event/id carried on frame, got %+v", size, frames[1])
		}
		if frames[2].Event != "" {
			t.Fatalf("chunk size %d: event must reset between frames", size)
		}
	}
}

func TestStreamKeepsMultibyteRunesSplitAcrossChunks(t *testing.T) {
	payloads := []string{
		`{"text":"ação rápida"}`,
		`{"text":"€ 20 💡 anúncios"}`,
		"ç",
	}
	raw := ""
	for _, p := range payloads {
		raw += "data: " + p + "\n\n"
	}
	frames := collect(t, raw, 1)
	if len(frames) != len(payloads) {
		t.Fatalf("expected %d frames, got %d", len(payloads), len(frames))
	}
	for i, frame := range frames {
		if frame.Data != payloads[i] {
			t.Fatalf("frame %d: expected %q, got %q", i, payloads[i], frame.Data)
		}
	}

	dec := NewDecoder()
	var got []string
	for _, b := range []byte("data: 💡ção") {
		dec.Write([]byte{b}, func(f Frame) { got = append(got, f.Data) })
	}
	dec.Flush(func(f Frame) { got = append(got, f.Data) })
	if len(got) != 1 || got[0] != "💡ção" {
		t.Fatalf("expected one intact frame, got %q", got)
	}
}

func TestStreamDispatchesTrailingFrameOnce(t *testing.T) {
	raw := "data: first\n\ndata: last"
	for size := 1; size <= len(raw); size++ {
		frames := collect(t, raw, size)
		if len(frames) != 2 {
			t.Fatalf("chunk size %d: expected 2 frames, got %d", size, len(frames))
		}
		if frames[1].Data != "last" {
			t.Fatalf("chunk size %d: expected trailing frame, got %q", size, frames[1].Data)
		}
	}

	frames := collect(t, "data: tail\n", 4)
	if len(frames) != 1 || frames[0].Data != "tail" {
		t.Fatalf("expected single trailing frame, got %+v", frames)
	}
}

func TestStreamHandlesCRLF(t *testing.T) {
	frames := collect(t, "data: one\r\n\r\ndata: two\r\n\r\n", 3)
	if len(frames) != 2 || frames[0].Data != "one" || frames[1].Data != "two" {
		t.Fatalf("unexpected frames: %+v", frames)
	}
}

func TestEmptyPayloadIsNeverDispatched(t *testing.T) {
	frames := collect(t, "data:\n\n: only comment\n\nevent: ping\n\n\n\n", 2)
	if len(frames) != 0 {
		t.Fatalf("expected no frames, got %+v", frames)
	}
}

func TestDecoderWriteAndFlush(t *testing.T) {
	dec := NewDecoder()
	var got []string
	emit := func(f Frame) { got = append(got, f.Data) }
	dec.Write([]byte("data: par"), emit)
	dec.Write([]byte("tial\n"), emit)
	if len(got) != 0 {
		t.Fatalf("frame dispatched before terminator: %v", got)
	}
	dec.Write([]byte("\n"), emit)
	if len(got) != 1 || got[0] != "partial" {
		t.Fatalf("unexpected frames: %v", got)
	}
	dec.Flush(emit)
	dec.Flush(emit)
	if len(got) != 1 {
		t.Fatalf("flush must not redispatch: %v", got)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestStreamReturnsReadError(t *testing.T) {
	err := Stream(context.Background(), failingReader{}, func(Frame) {})
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestStreamStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Stream(ctx, strings.NewReader("data: x\n\n"), func(Frame) {
		t.Fatalf("no frame expected after cancel")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
