package pipeline

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	// MaxTranscriptChars is the number of characters sent for structuring.
	MaxTranscriptChars = 20000

	// MaxTitleChars is the maximum stored title length.
	MaxTitleChars = 30
)

// User-facing summary texts.
const (
	DegradedSummary = "Your meeting was transcribed, but we couldn't generate a structured summary this time. The full transcript is available."
	FailureSummary  = "We couldn't process this recording. Please try again."
	TruncationNote  = "Note: this meeting was long, so only the first part of the transcript was analyzed."
)

// structuredMeeting is the JSON object requested from the structuring service.
type structuredMeeting struct {
	Title           string   `json:"title"`
	CleanTranscript string   `json:"clean_transcript"`
	Summary         string   `json:"summary"`
	KeyPoints       []string `json:"key_points"`
	ActionItems     []string `json:"action_items"`
}

// requiredFields must be present in a structuring response. title and
// clean_transcript have fallbacks.
var requiredFields = []string{"summary", "key_points", "action_items"}

// TruncateTranscript returns the first limit characters of s and whether
// anything was cut.
func TruncateTranscript(s string, limit int) (string, bool) {
	if utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	i := 0
	for n := 0; n < limit; n++ {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i], true
}

// NormalizeTitle collapses whitespace, composes the text to NFC and cuts it to
// MaxTitleChars characters.
func NormalizeTitle(title string) string {
	title = norm.NFC.String(strings.Join(strings.Fields(title), " "))
	title, _ = TruncateTranscript(title, MaxTitleChars)
	return strings.TrimSpace(title)
}

// RenderSummary builds the stored summary text from a structured response.
func RenderSummary(summary string, keyPoints, actionItems []string, truncated bool) string {
	var sections []string
	if s := strings.TrimSpace(summary); s != "" {
		sections = append(sections, s)
	}
	if list := bulletList(keyPoints); list != "" {
		sections = append(sections, "Key Points\n"+list)
	}
	if list := bulletList(actionItems); list != "" {
		sections = append(sections, "Action Items\n"+list)
	}
	if truncated {
		sections = append(sections, TruncationNote)
	}
	return strings.Join(sections, "\n\n")
}

// RenderDegradedSummary returns the placeholder stored when structuring fails.
func RenderDegradedSummary(truncated bool) string {
	if truncated {
		return DegradedSummary + "\n\n" + TruncationNote
	}
	return DegradedSummary
}

func bulletList(items []string) string {
	var b strings.Builder
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(item)
	}
	return b.String()
}
