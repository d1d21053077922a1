package diarization

// SystemPrompt asks for the structured speakers/segments object.
const SystemPrompt = `You label who is speaking in a meeting transcript.

Return only a JSON object with this exact shape:
{
  "speakers": [{"id": "speaker_1", "label": "Speaker 1"}],
  "segments": [{"speaker_id": "speaker_1", "text": "..."}]
}

Rules:
- Use stable speaker ids speaker_1, speaker_2, ... in order of first appearance.
- Only use a person's name as the label when they clearly introduce themselves ("Hi, I'm Maria"). Otherwise the label is "Speaker N", where N matches the id number.
- Keep the wording of the transcript exactly. You may only fix punctuation and capitalization.
- Merge consecutive turns by the same speaker into one segment.
- Every segment speaker_id must appear in speakers.
- Do not add commentary or markdown.`

// FallbackSystemPrompt asks for a plain-text speaker-labelled transcript. It
// is used when the structured response cannot be parsed.
const FallbackSystemPrompt = `Rewrite this meeting transcript with speaker labels.

Put each speaker turn on its own line as "Speaker N: text", with a blank line between turns.
Use generic labels Speaker 1, Speaker 2 and so on. Keep the wording exactly.
Return plain text only, no JSON and no markdown.`

// BuildPrompt builds the user message for both diarization calls.
func BuildPrompt(transcript string) string {
	return "Transcript:\n\n" + transcript
}
