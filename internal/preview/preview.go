// Package preview turns the delivered ads payload into display-ready
// variations.
package preview

import (
	"bytes"
	"encoding/json"
)

const (
	FallbackFormat      = "Feed"
	FallbackAspectRatio = "4:5"
)

type Copy struct {
	Headline string `json:"headline,omitempty"`
	Body     string `json:"corpo,omitempty"`
	CTAText  string `json:"cta_texto,omitempty"`
}

type Visual struct {
	ImageDescription   string   `json:"descricao_imagem,omitempty"`
	PromptCurrent      string   `json:"prompt_estado_atual,omitempty"`
	PromptIntermediate string   `json:"prompt_estado_intermediario,omitempty"`
	PromptAspirational string   `json:"prompt_estado_aspiracional,omitempty"`
	AspectRatio        string   `json:"aspect_ratio"`
	Images             []string `json:"images,omitempty"`
}

type Variation struct {
	LandingPageURL string          `json:"landing_page_url,omitempty"`
	Format         string          `json:"formato"`
	Copy           Copy            `json:"copy"`
	Visual         Visual          `json:"visual"`
	CTAInstagram   string          `json:"cta_instagram,omitempty"`
	Flow           string          `json:"fluxo,omitempty"`
	PatternRefs    string          `json:"referencia_padroes,omitempty"`
	LandingContext json.RawMessage `json:"contexto_landing,omitempty"`
}

// Vertical reports whether the platform UI overlaps the creative.
func (v Variation) Vertical() bool {
	return v.Format == "Reels" || v.Format == "Stories"
}

// Prompts lists the non-empty image prompts with their labels.
func (v Variation) Prompts() [][2]string {
	var out [][2]string
	for _, p := range [][2]string{
		{"Estado atual", v.Visual.PromptCurrent},
		{"Intermediário", v.Visual.PromptIntermediate},
		{"Aspiracional", v.Visual.PromptAspirational},
	} {
		if p[1] != "" {
			out = append(out, p)
		}
	}
	return out
}

// Normalize accepts an array of variations, an object wrapping one under
// variations, variacoes or ads, or a single variation object. Items that are
// not objects are dropped; unparseable payloads yield nil.
func Normalize(payload []byte) []Variation {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil
	}
	var root any
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil
	}

	var items []any
	switch v := root.(type) {
	case []any:
		items = v
	case map[string]any:
		wrapped := firstPresent(v, "variations", "variacoes", "ads")
		if list, ok := wrapped.([]any); ok {
			items = list
		} else {
			items = []any{v}
		}
	default:
		return nil
	}

	out := make([]Variation, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, sanitize(obj))
		}
	}
	return out
}

func firstPresent(obj map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := obj[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func sanitize(raw map[string]any) Variation {
	copyObj, _ := raw["copy"].(map[string]any)
	visualObj, _ := raw["visual"].(map[string]any)
	return Variation{
		LandingPageURL: str(raw["landing_page_url"]),
		Format:         coerceFormat(raw["formato"]),
		Copy: Copy{
			Headline: str(copyObj["headline"]),
			Body:     str(copyObj["corpo"]),
			CTAText:  str(copyObj["cta_texto"]),
		},
		Visual: Visual{
			ImageDescription:   str(visualObj["descricao_imagem"]),
			PromptCurrent:      str(visualObj["prompt_estado_atual"]),
			PromptIntermediate: str(visualObj["prompt_estado_intermediario"]),
			PromptAspirational: str(visualObj["prompt_estado_aspiracional"]),
			AspectRatio:        coerceAspectRatio(visualObj["aspect_ratio"]),
			Images:             images(visualObj["images"]),
		},
		CTAInstagram:   str(raw["cta_instagram"]),
		Flow:           str(raw["fluxo"]),
		PatternRefs:    str(raw["referencia_padroes"]),
		LandingContext: landingContext(raw["contexto_landing"]),
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func coerceFormat(v any) string {
	switch s := str(v); s {
	case "Feed", "Reels", "Stories":
		return s
	}
	return FallbackFormat
}

func coerceAspectRatio(v any) string {
	switch s := str(v); s {
	case "4:5", "9:16", "1:1":
		return s
	}
	return FallbackAspectRatio
}

func images(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// landingContext keeps strings, arrays and objects; anything else is dropped.
func landingContext(v any) json.RawMessage {
	switch v.(type) {
	case string, []any, map[string]any:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return raw
	}
	return nil
}
