package utils

import "encoding/json"

// GenericErrorMessage replaces server error text that cannot be safely
// surfaced.
const GenericErrorMessage = "request failed"

// SanitizeErrorBody reduces a raw server error body to a safe
// (message, code) pair. Only a string "error" field (returned as message)
// and a string "code" field survive; everything else is dropped. This is
// an allow-list so new server-side fields can never leak accidentally.
func SanitizeErrorBody(raw []byte) (message, code string) {
	message = GenericErrorMessage

	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil || body == nil {
		return message, ""
	}

	if v, ok := body["error"].(string); ok && v != "" {
		message = v
	}
	if v, ok := body["code"].(string); ok {
		code = v
	}
	return message, code
}
