package protocol

import (
	"fmt"
)

// errorMessageKeys are tried in order when extracting text from an error payload.
var errorMessageKeys = []string{"msg", "message", "error", "detail"}

// ErrorMessage extracts a human readable message from an error payload. It
// tries msg, message, error and detail in that order, descending into nested
// objects, and falls back to the payload serialised as JSON.
func ErrorMessage(payload map[string]any) string {
	if msg, ok := lookupMessage(payload, 0); ok {
		return msg
	}
	if len(payload) == 0 {
		return "unknown error"
	}
	if b, err := wire.Marshal(payload); err == nil {
		return string(b)
	}
	return fmt.Sprint(payload)
}

const maxMessageDepth = 4

func lookupMessage(payload map[string]any, depth int) (string, bool) {
	if depth > maxMessageDepth {
		return "", false
	}
	for _, key := range errorMessageKeys {
		switch v := payload[key].(type) {
		case string:
			if v != "" {
				return v, true
			}
		case map[string]any:
			if msg, ok := lookupMessage(v, depth+1); ok {
				return msg, true
			}
		}
	}
	return "", false
}
