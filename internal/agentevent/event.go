// Package agentevent parses the JSON payload of one agent-runtime stream
// frame into a normalized event.
package agentevent

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

const rawPreviewChars = 200

// Agents whose url_to_short_id state delta counts as retrieved sources.
const (
	AgentSectionResearcher      = "section_researcher"
	AgentEnhancedSearchExecutor = "enhanced_search_executor"
)

var errNotObject = errors.New("event payload is not a JSON object")

type Kind int

const (
	// KindMalformed marks a payload that could not be parsed. Only Raw and
	// Err are set.
	KindMalformed Kind = iota
	KindAgent
)

func (k Kind) String() string {
	switch k {
	case KindAgent:
		return "agent"
	default:
		return "malformed"
	}
}

type FunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
	ID   string          `json:"id,omitempty"`
}

type FunctionResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response,omitempty"`
	ID       string          `json:"id,omitempty"`
}

type Event struct {
	Kind Kind

	Agent            string
	TextParts        []string
	FinalReport      string
	FunctionCall     *FunctionCall
	FunctionResponse *FunctionResponse
	SourceCount      int
	Sources          json.RawMessage

	// Raw is the truncated payload of a malformed frame.
	Raw string
	Err error
}

func (e Event) Malformed() bool {
	return e.Kind == KindMalformed
}

// object is a JSON object whose members are decoded one at a time, so a
// member of an unexpected type blanks only that member.
type object map[string]json.RawMessage

func decodeObject(raw json.RawMessage) (object, bool) {
	var obj object
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func (o object) str(key string) string {
	var s string
	if err := json.Unmarshal(o[key], &s); err != nil {
		return ""
	}
	return s
}

// id accepts string and numeric ids.
func (o object) id(key string) string {
	if s := o.str(key); s != "" {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(o[key], &n); err != nil {
		return ""
	}
	return n.String()
}

func (o object) child(key string) (object, bool) {
	raw, ok := o[key]
	if !ok {
		return nil, false
	}
	return decodeObject(raw)
}

func (o object) list(key string) []json.RawMessage {
	var items []json.RawMessage
	if err := json.Unmarshal(o[key], &items); err != nil {
		return nil
	}
	return items
}

// Parse never fails: a payload that is not a JSON object becomes a
// KindMalformed event. Inside a valid object, members of an unexpected
// type are skipped.
func Parse(raw string) Event {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return malformed(raw, errNotObject)
	}
	var top object
	if err := json.Unmarshal(trimmed, &top); err != nil {
		return malformed(raw, err)
	}

	ev := Event{Kind: KindAgent, Agent: top.str("author")}
	if content, ok := top.child("content"); ok {
		for _, item := range content.list("parts") {
			part, ok := decodeObject(item)
			if !ok {
				continue
			}
			if text := part.str("text"); text != "" {
				ev.TextParts = append(ev.TextParts, text)
			}
			if ev.FunctionCall == nil {
				if call, ok := part.child("functionCall"); ok {
					ev.FunctionCall = &FunctionCall{Name: call.str("name"), Args: call["args"], ID: call.id("id")}
				}
			}
			if ev.FunctionResponse == nil {
				if resp, ok := part.child("functionResponse"); ok {
					ev.FunctionResponse = &FunctionResponse{Name: resp.str("name"), Response: resp["response"], ID: resp.id("id")}
				}
			}
		}
	}

	actions, ok := top.child("actions")
	if !ok {
		return ev
	}
	delta, ok := actions.child("stateDelta")
	if !ok {
		return ev
	}

	if report, ok := delta["final_report_with_citations"]; ok && truthy(report) {
		ev.FinalReport = textOf(report)
	}
	if countsSources(ev.Agent) {
		if urls, ok := delta.child("url_to_short_id"); ok {
			ev.SourceCount = len(urls)
		}
	}
	if sources, ok := delta["sources"]; ok && truthy(sources) {
		ev.Sources = sources
	}
	return ev
}

func countsSources(author string) bool {
	return author == AgentSectionResearcher || author == AgentEnhancedSearchExecutor
}

func malformed(raw string, err error) Event {
	return Event{Kind: KindMalformed, Raw: Preview(raw), Err: err}
}

// Preview truncates a payload for diagnostics.
func Preview(raw string) string {
	if len(raw) <= rawPreviewChars {
		return raw
	}
	cut := rawPreviewChars
	for cut > 0 && !isRuneStart(raw[cut]) {
		cut--
	}
	return raw[:cut] + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// truthy follows JSON-in-a-browser semantics: null, false, 0 and "" are
// falsy, everything else (including {} and []) is truthy.
func truthy(value json.RawMessage) bool {
	v := strings.TrimSpace(string(value))
	switch v {
	case "", "null", "false", `""`:
		return false
	}
	var n float64
	if err := json.Unmarshal([]byte(v), &n); err == nil {
		return n != 0
	}
	return true
}

func textOf(value json.RawMessage) string {
	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		return s
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, value); err != nil {
		return string(value)
	}
	return compact.String()
}
