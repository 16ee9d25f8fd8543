package framework

import (
	"regexp"
	"strconv"
	"strings"
)

// Structured-extraction conventions for free-text LLM replies. Extraction
// is best-effort with documented fallbacks: absence of a marker is a
// valid, expected state, never an error.

var (
	commandBlockRe = regexp.MustCompile("(?s)```(?:bash|sh|shell)?[ \t]*\n(.*?)```")
	phaseMarkerRe  = regexp.MustCompile(`\[PHASE:\s*([a-zA-Z0-9_\- ]+?)\s*\]`)
	confMarkerRe   = regexp.MustCompile(`\[CONFIDENCE:\s*([0-9]*\.?[0-9]+)\s*\]`)
	completeRe     = regexp.MustCompile(`\[FRAMEWORK_COMPLETE\]`)
	jsonBlockRe    = regexp.MustCompile("(?s)```(?:json)?[ \t]*\n(.*?)```")
)

// ParsedResponse is the structured view of one free-text LLM reply.
type ParsedResponse struct {
	Thought    string
	Command    string
	Phase      string
	Confidence float64
	Complete   bool
}

// ParseResponse extracts the conventional markers from an LLM reply:
// an optional fenced command block, [PHASE:x], [CONFIDENCE:n], and
// [FRAMEWORK_COMPLETE]. Anything unmatched falls back to treating the
// first paragraph as the thought and defaultConfidence as the confidence.
func ParseResponse(text string, defaultConfidence float64) ParsedResponse {
	parsed := ParsedResponse{Confidence: defaultConfidence}

	if m := commandBlockRe.FindStringSubmatch(text); m != nil {
		parsed.Command = strings.TrimSpace(m[1])
	}
	if m := phaseMarkerRe.FindStringSubmatch(text); m != nil {
		parsed.Phase = strings.TrimSpace(m[1])
	}
	if m := confMarkerRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			parsed.Confidence = clamp01(v)
		}
	}
	parsed.Complete = completeRe.MatchString(text)

	parsed.Thought = firstParagraph(stripMarkers(text))
	return parsed
}

// stripMarkers removes code blocks and marker tags so the thought text
// reads as prose.
func stripMarkers(text string) string {
	text = commandBlockRe.ReplaceAllString(text, "")
	text = phaseMarkerRe.ReplaceAllString(text, "")
	text = confMarkerRe.ReplaceAllString(text, "")
	text = completeRe.ReplaceAllString(text, "")
	return text
}

// firstParagraph returns the first non-empty paragraph.
func firstParagraph(text string) string {
	for _, para := range strings.Split(text, "\n\n") {
		if p := strings.TrimSpace(para); p != "" {
			return p
		}
	}
	return strings.TrimSpace(text)
}

// ExtractJSON pulls a JSON payload out of a reply that may wrap it in a
// fenced block or surround it with prose. Returns false when nothing
// JSON-shaped is present.
func ExtractJSON(text string) (string, bool) {
	if m := jsonBlockRe.FindStringSubmatch(text); m != nil {
		candidate := strings.TrimSpace(m[1])
		if candidate != "" {
			return candidate, true
		}
	}

	// Fall back to the outermost braces or brackets, whichever opens first.
	opener, closer := "{", "}"
	objStart := strings.Index(text, "{")
	arrStart := strings.Index(text, "[")
	if arrStart >= 0 && (objStart < 0 || arrStart < objStart) {
		opener, closer = "[", "]"
	}
	start := strings.Index(text, opener)
	end := strings.LastIndex(text, closer)
	if start >= 0 && end > start {
		return strings.TrimSpace(text[start : end+1]), true
	}
	return "", false
}
