package diarization

import (
	"strconv"
	"strings"

	"github.com/otherjamesbrown/penf-meetings/pkg/meetings"
)

// turnSeparator separates rendered speaker turns.
const turnSeparator = "\n\n"

// Render formats d as "<label>: <text>" turns in segment order. A listed
// speaker with a blank label renders as "Speaker N" taken from its
// speaker_N id. Segments whose speaker id is not listed render as
// "Unknown Speaker".
func Render(d *meetings.Diarization) string {
	if d == nil {
		return ""
	}

	labels := d.Labels()
	turns := make([]string, 0, len(d.Segments))
	for _, seg := range d.Segments {
		label, known := labels[seg.SpeakerID]
		label = strings.TrimSpace(label)
		switch {
		case label != "":
		case known:
			label = defaultLabel(seg.SpeakerID)
		default:
			label = meetings.UnknownSpeakerLabel
		}
		turns = append(turns, label+": "+strings.TrimSpace(seg.Text))
	}
	return strings.Join(turns, turnSeparator)
}

// defaultLabel returns "Speaker N" for an id of the form speaker_N.
func defaultLabel(speakerID string) string {
	n, ok := strings.CutPrefix(speakerID, "speaker_")
	if !ok {
		return meetings.UnknownSpeakerLabel
	}
	if num, err := strconv.Atoi(n); err != nil || num < 1 {
		return meetings.UnknownSpeakerLabel
	}
	return "Speaker " + n
}
