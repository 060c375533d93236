package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if value == "" {
		return fallback
	}
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// wrapText wraps on word boundaries using rune widths. Words wider than
// width are split into rune chunks.
func wrapText(text string, width int) string {
	if width <= 0 {
		return text
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		var current []rune
		for _, word := range strings.Fields(line) {
			for _, chunk := range splitRunes([]rune(word), width) {
				switch {
				case len(current) == 0:
					current = append([]rune(nil), chunk...)
				case len(current)+1+len(chunk) <= width:
					current = append(append(current, ' '), chunk...)
				default:
					out = append(out, string(current))
					current = append([]rune(nil), chunk...)
				}
			}
		}
		out = append(out, string(current))
	}
	return strings.Join(out, "\n")
}

func splitRunes(word []rune, width int) [][]rune {
	chunks := make([][]rune, 0, len(word)/width+1)
	for len(word) > width {
		chunks = append(chunks, word[:width:width])
		word = word[width:]
	}
	return append(chunks, word)
}

// compactMessage collapses blank-line runs and caps long agent output.
func compactMessage(text string, maxLines int, maxChars int) string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	normalized = strings.TrimSpace(normalized)
	if normalized == "" {
		return ""
	}

	rawLines := strings.Split(normalized, "\n")
	lines := make([]string, 0, len(rawLines))
	lastBlank := false
	for _, line := range rawLines {
		trimmed := strings.TrimRight(line, " \t")
		isBlank := strings.TrimSpace(trimmed) == ""
		if isBlank && lastBlank {
			continue
		}
		lines = append(lines, trimmed)
		lastBlank = isBlank
	}

	if maxLines > 0 && len(lines) > maxLines {
		hidden := len(lines) - maxLines
		lines = append(lines[:maxLines], fmt.Sprintf("[... %d lines hidden]", hidden))
	}

	joined := strings.TrimSpace(strings.Join(lines, "\n"))
	if maxChars > 0 && len([]rune(joined)) > maxChars {
		return strings.TrimSpace(truncate(joined, maxChars-18) + "\n[... truncated]")
	}
	return joined
}

func truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}

func compactSingleLine(text string, limit int) string {
	compact := strings.Join(strings.Fields(text), " ")
	return truncate(compact, limit)
}

func padRight(text string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) >= width {
		return string(runes[:width])
	}
	return text + strings.Repeat(" ", width-len(runes))
}

func cycleString(options []string, current string, delta int) string {
	if len(options) == 0 {
		return current
	}
	idx := -1
	for i, option := range options {
		if option == current {
			idx = i
			break
		}
	}
	if idx < 0 {
		if delta < 0 {
			return options[len(options)-1]
		}
		return options[0]
	}
	idx = (idx + delta) % len(options)
	if idx < 0 {
		idx += len(options)
	}
	return options[idx]
}

func cycleInt(options []int, current int, delta int) int {
	if len(options) == 0 {
		return current
	}
	idx := 0
	for i, option := range options {
		if option == current {
			idx = i
			break
		}
	}
	idx = (idx + delta) % len(options)
	if idx < 0 {
		idx += len(options)
	}
	return options[idx]
}

func onOff(value bool) string {
	if value {
		return "on"
	}
	return "off"
}

func nullCoalesce(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clampInt(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func ternary[T any](condition bool, whenTrue T, whenFalse T) T {
	if condition {
		return whenTrue
	}
	return whenFalse
}
