package pipeline

// SummarySystemPrompt asks for the structured meeting object.
const SummarySystemPrompt = `You turn raw meeting transcripts into structured notes.

Respond with a single JSON object and nothing else. Use exactly these keys:
- "title": a short title for the meeting, at most 30 characters
- "clean_transcript": the transcript with filler words and false starts removed; keep the wording otherwise unchanged
- "summary": a concise prose summary of the meeting
- "key_points": an array of strings, the main points discussed
- "action_items": an array of strings, concrete follow-ups, naming the owner when one is mentioned

Use empty arrays when there is nothing to list. Do not invent content that is not in the transcript.`

// BuildSummaryPrompt wraps the transcript for the structuring request.
func BuildSummaryPrompt(transcript string) string {
	return "Transcript:\n\n" + transcript
}
