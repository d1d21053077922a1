package errors

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code            ErrorCode
	Retryable       bool
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	ErrFetch: {
		Code:            ErrFetch,
		Retryable:       true,
		Description:     "Audio could not be downloaded (transport failure or non-2xx response)",
		SuggestedAction: "Verify the audio URL is reachable and has not expired",
	},
	ErrTranscription: {
		Code:            ErrTranscription,
		Retryable:       true,
		Description:     "Speech-to-text service call failed",
		SuggestedAction: "Check transcription provider status and API key",
	},
	ErrStructuring: {
		Code:            ErrStructuring,
		Retryable:       true,
		Description:     "Text-generation service call failed",
		SuggestedAction: "Check LLM provider status and API key",
	},
	ErrParse: {
		Code:            ErrParse,
		Retryable:       false,
		Description:     "Model output was malformed or missing required fields",
		SuggestedAction: "Recovered automatically with degraded content; no action needed",
	},
	ErrPersistence: {
		Code:            ErrPersistence,
		Retryable:       true,
		Description:     "Record store write failed or matched no rows",
		SuggestedAction: "Verify the meeting row exists and the database is reachable",
	},
	ErrNotification: {
		Code:            ErrNotification,
		Retryable:       false,
		Description:     "Push notification delivery failed",
		SuggestedAction: "Check the device push token; the meeting itself was processed",
	},
	ErrTimeout: {
		Code:            ErrTimeout,
		Retryable:       true,
		Description:     "Operation exceeded time limit",
		SuggestedAction: "Check timeout configuration and upstream latency",
	},
	ErrContextCancelled: {
		Code:            ErrContextCancelled,
		Retryable:       false,
		Description:     "Operation cancelled by caller or system",
		SuggestedAction: "Check if cancellation was intentional",
	},
	ErrRateLimit: {
		Code:            ErrRateLimit,
		Retryable:       true,
		Description:     "API rate limit exceeded",
		SuggestedAction: "Wait and retry, or check quota limits with the AI provider",
	},
	ErrServiceUnavailable: {
		Code:            ErrServiceUnavailable,
		Retryable:       true,
		Description:     "Upstream service unavailable",
		SuggestedAction: "Check provider status and network connectivity",
	},
	ErrProcessingError: {
		Code:            ErrProcessingError,
		Retryable:       false,
		Description:     "Unclassified processing error",
		SuggestedAction: "Check service logs for the meeting id",
	},
}

// IsRetryable returns true if the given error code represents a transient, retryable error.
func IsRetryable(code ErrorCode) bool {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Retryable
	}
	return false
}

// GetSuggestedAction returns the suggested action for the given error code.
func GetSuggestedAction(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.SuggestedAction
	}
	return "Check service logs for more details"
}

// GetDescription returns the human-readable description for the given error code.
func GetDescription(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Description
	}
	return "Unknown error"
}
