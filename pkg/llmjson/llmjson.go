// Package llmjson extracts JSON objects from text-generation responses.
//
// Models often wrap JSON in a markdown code fence. StripFence removes one
// fenced block using a small grammar:
//
//	response = [prose] fence [tag] body [fence [prose]]
//	fence    = "```"
//	tag      = letter { letter | digit | "-" | "_" | "+" | "." }
//
// A response that is already valid JSON is used as-is, even when a string
// value contains a fence. Otherwise the first fence opens the block and the
// next fence closes it. A response without a fence is used as-is. An opening fence without a closing one yields
// everything after the opening fence and tag. Further fences after the first
// closing one are ignored, so nested or repeated blocks are best-effort.
// Malformed JSON is never repaired.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

const fence = "```"

// Reasons reported by ParseError.
const (
	ReasonEmpty         = "empty"
	ReasonDecode        = "decode"
	ReasonNotObject     = "not_object"
	ReasonMissingFields = "missing_fields"
)

// ParseError reports a model response that could not be used.
type ParseError struct {
	Reason  string
	Missing []string
	Err     error
}

func (e *ParseError) Error() string {
	switch e.Reason {
	case ReasonMissingFields:
		return fmt.Sprintf("llm response missing required fields: %s", strings.Join(e.Missing, ", "))
	case ReasonEmpty:
		return "llm response is empty"
	case ReasonNotObject:
		return "llm response is not a JSON object"
	}
	if e.Err != nil {
		return fmt.Sprintf("llm response is not valid JSON: %v", e.Err)
	}
	return "llm response is not valid JSON"
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err is or wraps a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// StripFence returns the content of the first fenced block in raw, or the
// trimmed text when it has no fence or is already valid JSON.
func StripFence(raw string) string {
	text := strings.TrimSpace(raw)
	if json.Valid([]byte(text)) {
		return text
	}
	open := strings.Index(text, fence)
	if open < 0 {
		return text
	}

	body := text[open+len(fence):]
	body = body[tagLength(body):]

	if end := strings.Index(body, fence); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// tagLength returns the length of the language tag at the start of s.
func tagLength(s string) int {
	for i, r := range s {
		if i == 0 {
			if !unicode.IsLetter(r) {
				return 0
			}
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("-_+.", r) {
			continue
		}
		return i
	}
	return len(s)
}

// Parse extracts a JSON object from raw and checks that every required key is
// present with a non-null value.
func Parse(raw string, required ...string) (map[string]json.RawMessage, error) {
	payload := StripFence(raw)
	if payload == "" {
		return nil, &ParseError{Reason: ReasonEmpty}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, &ParseError{Reason: ReasonNotObject, Err: err}
		}
		return nil, &ParseError{Reason: ReasonDecode, Err: err}
	}
	if obj == nil {
		return nil, &ParseError{Reason: ReasonNotObject}
	}

	var missing []string
	for _, key := range required {
		v, ok := obj[key]
		if !ok || string(v) == "null" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &ParseError{Reason: ReasonMissingFields, Missing: missing}
	}

	return obj, nil
}

// Decode parses raw like Parse and unmarshals the object into target.
func Decode(raw string, target any, required ...string) error {
	if _, err := Parse(raw, required...); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(StripFence(raw)), target); err != nil {
		return &ParseError{Reason: ReasonDecode, Err: err}
	}
	return nil
}
