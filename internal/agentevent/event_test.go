package agentevent

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestParseCollectsPartsInOrder(t *testing.T) {
	ev := Parse(`{
		"author": "plan_generator",
		"content": {"role": "model", "parts": [
			{"text": "Step one."},
			{"functionCall": {"name": "google_search", "args": {"q": "ads"}, "id": "call-1"}},
			{"text": ""},
			{"functionCall": {"name": "ignored_second_call"}},
			{"functionResponse": {"name": "google_search", "response": {"ok": true}, "id": "call-1"}},
			{"text": "Step two."}
		]}
	}`)
	if ev.Malformed() {
		t.Fatalf("expected agent event, got malformed: %v", ev.Err)
	}
	if ev.Agent != "plan_generator" {
		t.Fatalf("unexpected agent %q", ev.Agent)
	}
	if len(ev.TextParts) != 2 || ev.TextParts[0] != "Step one." || ev.TextParts[1] != "Step two." {
		t.Fatalf("unexpected text parts %q", ev.TextParts)
	}
	if ev.FunctionCall == nil || ev.FunctionCall.Name != "google_search" || ev.FunctionCall.ID != "call-1" {
		t.Fatalf("expected first function call, got %+v", ev.FunctionCall)
	}
	if string(ev.FunctionCall.Args) != `{"q": "ads"}` {
		t.Fatalf("expected raw args, got %s", ev.FunctionCall.Args)
	}
	if ev.FunctionResponse == nil || ev.FunctionResponse.Name != "google_search" {
		t.Fatalf("expected function response, got %+v", ev.FunctionResponse)
	}
	if ev.SourceCount != 0 || ev.Sources != nil || ev.FinalReport != "" {
		t.Fatalf("unexpected state delta fields: %+v", ev)
	}
}

func TestParseMalformedPayloads(t *testing.T) {
	long := strings.Repeat("x", 500)
	cases := []string{
		"not json",
		`{"author": "section_researcher", "content": `,
		`"just a string"`,
		`[1,2,3]`,
		`null`,
		"",
		long,
	}
	for _, raw := range cases {
		ev := Parse(raw)
		if !ev.Malformed() {
			t.Fatalf("expected malformed for %q", raw)
		}
		if ev.Err == nil {
			t.Fatalf("expected error for %q", raw)
		}
		if ev.Agent != "" || len(ev.TextParts) != 0 || ev.FunctionCall != nil || ev.SourceCount != 0 {
			t.Fatalf("malformed event must be neutral, got %+v", ev)
		}
	}
	ev := Parse(long)
	if len(ev.Raw) != 203 || !strings.HasSuffix(ev.Raw, "...") {
		t.Fatalf("expected truncated preview, got %d chars", len(ev.Raw))
	}
}

func TestParseSourceCountOnlyForResearchAgents(t *testing.T) {
	payload := `{"author": "%s", "actions": {"stateDelta": {"url_to_short_id": {"https://a": "src-1", "https://b": "src-2", "https://c": "src-3"}}}}`
	for _, agent := range []string{AgentSectionResearcher, AgentEnhancedSearchExecutor} {
		ev := Parse(strings.Replace(payload, "%s", agent, 1))
		if ev.SourceCount != 3 {
			t.Fatalf("%s: expected 3 sources, got %d", agent, ev.SourceCount)
		}
	}
	ev := Parse(strings.Replace(payload, "%s", "research_evaluator", 1))
	if ev.SourceCount != 0 {
		t.Fatalf("ineligible agent must not count sources, got %d", ev.SourceCount)
	}

	ev = Parse(`{"author":"section_researcher","content":{"parts":[{"functionCall":{"name":"f","args":{},"id":7}}]},"actions":{"stateDelta":{"url_to_short_id":{"a":1,"b":2}}}}`)
	if ev.Malformed() || ev.SourceCount != 2 {
		t.Fatalf("numeric call id must not drop the source count, got kind=%s count=%d err=%v", ev.Kind, ev.SourceCount, ev.Err)
	}
	if ev.FunctionCall == nil || ev.FunctionCall.Name != "f" || ev.FunctionCall.ID != "7" {
		t.Fatalf("expected call f with id 7, got %+v", ev.FunctionCall)
	}
}

func TestParseSkipsMembersOfUnexpectedType(t *testing.T) {
	cases := []struct {
		name   string
		raw    string
		agent  string
		report string
		texts  int
	}{
		{
			name:   "string content",
			raw:    `{"author":"report_composer_with_citations","content":"x","actions":{"stateDelta":{"final_report_with_citations":"R"}}}`,
			agent:  "report_composer_with_citations",
			report: "R",
		},
		{
			name:  "numeric author",
			raw:   `{"author":42,"content":{"parts":[{"text":"kept"}]}}`,
			agent: "",
			texts: 1,
		},
		{
			name:  "parts not a list",
			raw:   `{"author":"plan_generator","content":{"parts":{"text":"lost"}}}`,
			agent: "plan_generator",
		},
		{
			name:  "odd part entries",
			raw:   `{"author":"plan_generator","content":{"parts":["text",{"text":5},{"text":"ação"},{"functionCall":"nope"}]}}`,
			agent: "plan_generator",
			texts: 1,
		},
		{
			name:   "state delta not an object",
			raw:    `{"author":"report_composer_with_citations","actions":{"stateDelta":[1,2]}}`,
			agent:  "report_composer_with_citations",
			report: "",
		},
		{
			name:  "url map not an object",
			raw:   `{"author":"section_researcher","actions":{"stateDelta":{"url_to_short_id":"a,b"}}}`,
			agent: "section_researcher",
		},
	}
	for _, tc := range cases {
		ev := Parse(tc.raw)
		if ev.Malformed() {
			t.Fatalf("%s: expected agent event, got malformed: %v", tc.name, ev.Err)
		}
		if ev.Agent != tc.agent {
			t.Fatalf("%s: expected agent %q, got %q", tc.name, tc.agent, ev.Agent)
		}
		if ev.FinalReport != tc.report {
			t.Fatalf("%s: expected report %q, got %q", tc.name, tc.report, ev.FinalReport)
		}
		if len(ev.TextParts) != tc.texts {
			t.Fatalf("%s: expected %d text parts, got %q", tc.name, tc.texts, ev.TextParts)
		}
		if ev.FunctionCall != nil || ev.SourceCount != 0 {
			t.Fatalf("%s: unexpected call or sources: %+v", tc.name, ev)
		}
	}
}

func TestParseFinalReportAndSources(t *testing.T) {
	ev := Parse(`{"author": "report_composer_with_citations", "actions": {"stateDelta": {
		"final_report_with_citations": "Report text",
		"sources": {"src-1": {"title": "A", "url": "https://a"}}
	}}}`)
	if ev.FinalReport != "Report text" {
		t.Fatalf("unexpected final report %q", ev.FinalReport)
	}
	if !strings.Contains(string(ev.Sources), `"src-1"`) {
		t.Fatalf("expected sources passthrough, got %s", ev.Sources)
	}

	ev = Parse(`{"author": "report_composer_with_citations", "actions": {"stateDelta": {
		"final_report_with_citations": "",
		"sources": null
	}}}`)
	if ev.FinalReport != "" || ev.Sources != nil {
		t.Fatalf("falsy values must be dropped, got %+v", ev)
	}

	ev = Parse(`{"author": "report_composer_with_citations", "actions": {"stateDelta": {"final_report_with_citations": {"ok": true}}}}`)
	if ev.FinalReport != `{"ok":true}` {
		t.Fatalf("expected compact JSON text, got %q", ev.FinalReport)
	}
}

func TestPreviewKeepsRuneBoundary(t *testing.T) {
	raw := strings.Repeat("a", 199) + "ção" + strings.Repeat("b", 10)
	got := Preview(raw)
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis, got %q", got)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("preview split a rune: %q", got)
	}
}
