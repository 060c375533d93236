// Package conversation holds the chat state of one briefing session and
// applies agent stream events to it.
package conversation

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"adflow/internal/agentevent"
)

type MessageType string

const (
	MessageHuman MessageType = "human"
	MessageAI    MessageType = "ai"
)

type Message struct {
	Type          MessageType
	Content       string
	ID            string
	Agent         string
	IsFinalReport bool
}

type TimelineKind int

const (
	TimelineText TimelineKind = iota
	TimelineFunctionCall
	TimelineFunctionResponse
	TimelineSources
)

func (k TimelineKind) String() string {
	switch k {
	case TimelineFunctionCall:
		return "functionCall"
	case TimelineFunctionResponse:
		return "functionResponse"
	case TimelineSources:
		return "sources"
	default:
		return "text"
	}
}

// TimelineData is a tagged union; only the field matching Kind is set.
type TimelineData struct {
	Kind     TimelineKind
	Text     string
	Call     *agentevent.FunctionCall
	Response *agentevent.FunctionResponse
	Sources  json.RawMessage
}

type TimelineEntry struct {
	Title string
	Data  TimelineData
}

// Stream is the per-submission state threaded through Apply.
type Stream struct {
	AIMessageID  string
	CurrentAgent string
	Accumulated  string
}

// Outcome summarises what one Apply call changed.
type Outcome struct {
	PrimaryUpdated   bool
	TimelineAppended int
	FinalReportID    string
	SourceCount      int
}

func (o Outcome) Changed() bool {
	return o.PrimaryUpdated || o.TimelineAppended > 0 || o.FinalReportID != ""
}

// Conversation is owned by a single goroutine; it has no locking.
type Conversation struct {
	messages    []Message
	timelines   map[string][]TimelineEntry
	sourceCount int
	newID       func() string
}

func New() *Conversation {
	return &Conversation{
		timelines: map[string][]TimelineEntry{},
		newID:     uuid.NewString,
	}
}

func (c *Conversation) AddHuman(content string) Message {
	msg := Message{Type: MessageHuman, Content: content, ID: c.newID()}
	c.messages = append(c.messages, msg)
	return msg
}

// BeginStream appends the empty ai placeholder for a submission.
func (c *Conversation) BeginStream() *Stream {
	id := c.newID()
	c.messages = append(c.messages, Message{Type: MessageAI, ID: id})
	return &Stream{AIMessageID: id}
}

// AddNotice appends a synthetic ai message such as a preflight rejection or
// a run failure.
func (c *Conversation) AddNotice(agent, content string) Message {
	msg := Message{Type: MessageAI, Content: content, ID: c.newID(), Agent: agent}
	c.messages = append(c.messages, msg)
	return msg
}

// Reset discards every message, timeline and the source counter.
func (c *Conversation) Reset() {
	c.messages = nil
	c.timelines = map[string][]TimelineEntry{}
	c.sourceCount = 0
}

func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Conversation) Timeline(messageID string) []TimelineEntry {
	entries := c.timelines[messageID]
	out := make([]TimelineEntry, len(entries))
	copy(out, entries)
	return out
}

func (c *Conversation) SourceCount() int {
	return c.sourceCount
}

// LastAIMessageID returns the newest ai message that is not a final report,
// or "" if there is none.
func (c *Conversation) LastAIMessageID() string {
	for i := len(c.messages) - 1; i >= 0; i-- {
		msg := c.messages[i]
		if msg.Type == MessageAI && !msg.IsFinalReport {
			return msg.ID
		}
	}
	return ""
}

// Apply folds one extracted event into the conversation. Malformed events
// are ignored.
func (c *Conversation) Apply(s *Stream, ev agentevent.Event) Outcome {
	var out Outcome
	if s == nil || ev.Malformed() {
		return out
	}

	if ev.SourceCount > 0 && ev.SourceCount > c.sourceCount {
		c.sourceCount = ev.SourceCount
	}
	out.SourceCount = c.sourceCount

	if ev.Agent != "" {
		s.CurrentAgent = ev.Agent
	}

	if ev.FunctionCall != nil {
		c.appendTimeline(s.AIMessageID, TimelineEntry{
			Title: "Function Call: " + ev.FunctionCall.Name,
			Data:  TimelineData{Kind: TimelineFunctionCall, Call: ev.FunctionCall},
		})
		out.TimelineAppended++
	}
	if ev.FunctionResponse != nil {
		c.appendTimeline(s.AIMessageID, TimelineEntry{
			Title: "Function Response: " + ev.FunctionResponse.Name,
			Data:  TimelineData{Kind: TimelineFunctionResponse, Response: ev.FunctionResponse},
		})
		out.TimelineAppended++
	}

	role := RoleOf(ev.Agent)
	if len(ev.TextParts) > 0 {
		switch roleStrategy[role] {
		case updatePrimary:
			for _, text := range ev.TextParts {
				s.Accumulated += text
				if !endsWithSpace(text) {
					s.Accumulated += " "
				}
			}
			if c.updatePrimary(s) {
				out.PrimaryUpdated = true
			}
		case appendTimeline:
			c.appendTimeline(s.AIMessageID, TimelineEntry{
				Title: TitleFor(ev.Agent),
				Data:  TimelineData{Kind: TimelineText, Text: strings.Join(ev.TextParts, " ")},
			})
			out.TimelineAppended++
		}
	}

	if len(ev.Sources) > 0 {
		c.appendTimeline(s.AIMessageID, TimelineEntry{
			Title: "Retrieved Sources",
			Data:  TimelineData{Kind: TimelineSources, Sources: ev.Sources},
		})
		out.TimelineAppended++
	}

	if role == RoleComposer && ev.FinalReport != "" {
		msg := Message{
			Type:          MessageAI,
			Content:       ev.FinalReport,
			ID:            c.newID(),
			Agent:         s.CurrentAgent,
			IsFinalReport: true,
		}
		c.messages = append(c.messages, msg)
		out.FinalReportID = msg.ID
	}
	return out
}

func (c *Conversation) updatePrimary(s *Stream) bool {
	for i := range c.messages {
		if c.messages[i].ID != s.AIMessageID {
			continue
		}
		c.messages[i].Content = strings.TrimSpace(s.Accumulated)
		if s.CurrentAgent != "" {
			c.messages[i].Agent = s.CurrentAgent
		}
		return true
	}
	return false
}

func endsWithSpace(text string) bool {
	return strings.TrimRight(text, " \t\n") != text
}

func (c *Conversation) appendTimeline(messageID string, entry TimelineEntry) {
	c.timelines[messageID] = append(c.timelines[messageID], entry)
}
