package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	firstInteger  = regexp.MustCompile(`\d+`)
	bareKey       = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*:)`)
	trailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// ParseScore reads the first integer of a rating answer. Anything outside
// 1..10 is treated as unusable.
func ParseScore(raw string) Outcome[int] {
	m := firstInteger.FindString(raw)
	if m == "" {
		return FallbackTo(DefaultScore, fmt.Errorf("%w: no number in %q", ErrMalformed, raw))
	}
	n, err := strconv.Atoi(m)
	if err != nil || n < 1 || n > 10 {
		return FallbackTo(DefaultScore, fmt.Errorf("%w: score %q out of range", ErrMalformed, m))
	}
	return OK(n)
}

// ParseRewrite decodes a {"title","content"} answer. Empty or missing fields
// keep the original text.
func ParseRewrite(raw, title, content string) Outcome[Rewrite] {
	original := Rewrite{Title: title, Content: content}

	var r Rewrite
	if err := DecodeJSON(raw, &r); err != nil {
		return FallbackTo(original, err)
	}

	out := Outcome[Rewrite]{Value: r}
	if strings.TrimSpace(r.Title) == "" {
		out.Value.Title = title
		out.Fallback = true
	}
	if strings.TrimSpace(r.Content) == "" {
		out.Value.Content = content
		out.Fallback = true
	}
	if out.Fallback {
		out.Err = fmt.Errorf("%w: rewrite is missing fields", ErrMalformed)
	}
	return out
}

// ParseSelection decodes {"selectedIndex": n}. Only the shape is checked
// here, not the range.
func ParseSelection(raw string) Outcome[int] {
	var sel struct {
		SelectedIndex *float64 `json:"selectedIndex"`
	}
	if err := DecodeJSON(raw, &sel); err != nil {
		return FallbackTo(0, err)
	}
	if sel.SelectedIndex == nil {
		return FallbackTo(0, fmt.Errorf("%w: selectedIndex missing", ErrMalformed))
	}
	idx := *sel.SelectedIndex
	if idx != float64(int(idx)) {
		return FallbackTo(0, fmt.Errorf("%w: selectedIndex %v is not an integer", ErrMalformed, idx))
	}
	return OK(int(idx))
}

// DecodeJSON unmarshals a model answer into v, tolerating code fences,
// surrounding prose, bare keys and trailing commas.
func DecodeJSON(raw string, v any) error {
	text := cleanJSON(raw)
	if text == "" {
		return fmt.Errorf("%w: empty answer", ErrMalformed)
	}
	err := json.Unmarshal([]byte(text), v)
	if err == nil {
		return nil
	}
	if rerr := json.Unmarshal([]byte(repairJSON(text)), v); rerr == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}

func cleanJSON(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}

// repairJSON quotes bare object keys and drops trailing commas. It is only
// applied after a strict parse failed.
func repairJSON(s string) string {
	s = bareKey.ReplaceAllString(s, `$1"$2"$3`)
	return trailingComma.ReplaceAllString(s, "$1")
}
