// Package sse splits a server-sent-event byte stream into frames.
package sse

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
)

const readChunkSize = 32 * 1024

// Frame is one dispatched event. Data is the newline-joined payload of its
// data: lines. Event and ID carry the last event:/id: values seen in the
// frame; they do not influence dispatch.
type Frame struct {
	Data  string
	Event string
	ID    string
}

// Decoder buffers partial lines across chunk boundaries. It is not safe for
// concurrent use.
type Decoder struct {
	pending []byte
	data    strings.Builder
	event   string
	id      string
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Write consumes one chunk and emits every frame it completes.
func (d *Decoder) Write(chunk []byte, emit func(Frame)) {
	d.pending = append(d.pending, chunk...)
	for {
		idx := bytes.IndexByte(d.pending, '\n')
		if idx < 0 {
			return
		}
		line := string(d.pending[:idx])
		d.pending = d.pending[idx+1:]
		d.processLine(line, emit)
	}
}

// Flush handles end of stream: an unterminated last line is processed and
// a pending frame is dispatched.
func (d *Decoder) Flush(emit func(Frame)) {
	if len(d.pending) > 0 {
		line := string(d.pending)
		d.pending = nil
		d.processLine(line, emit)
	}
	d.dispatch(emit)
}

func (d *Decoder) processLine(line string, emit func(Frame)) {
	line = strings.TrimSuffix(line, "\r")
	switch {
	case strings.TrimSpace(line) == "":
		d.dispatch(emit)
	case strings.HasPrefix(line, ":"):
	case strings.HasPrefix(line, "data:"):
		d.data.WriteString(fieldValue(line, "data:"))
		d.data.WriteByte('\n')
	case strings.HasPrefix(line, "event:"):
		d.event = fieldValue(line, "event:")
	case strings.HasPrefix(line, "id:"):
		d.id = fieldValue(line, "id:")
	}
}

func (d *Decoder) dispatch(emit func(Frame)) {
	if d.data.Len() == 0 {
		d.event, d.id = "", ""
		return
	}
	payload := strings.TrimSuffix(d.data.String(), "\n")
	frame := Frame{Data: payload, Event: d.event, ID: d.id}
	d.data.Reset()
	d.event, d.id = "", ""
	if payload == "" {
		return
	}
	emit(frame)
}

func fieldValue(line, prefix string) string {
	return strings.TrimPrefix(strings.TrimPrefix(line, prefix), " ")
}

// Stream reads r until EOF, emitting frames in arrival order. All frames
// already buffered are drained before the next read. A context cancellation
// stops the loop between reads.
func Stream(ctx context.Context, r io.Reader, emit func(Frame)) error {
	dec := NewDecoder()
	buf := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			dec.Write(buf[:n], emit)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				dec.Flush(emit)
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
	}
}
