package concierge

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/hupe1980/fundusmesh/core"
)

// ForwardingRequest is the instruction the concierge emits to delegate work
// to a specialist.
type ForwardingRequest struct {
	Assistant   string          `json:"assistant"`
	UserRequest string          `json:"user_request"`
	Context     json.RawMessage `json:"context"`
}

// ContextText renders the context for the specialist prompt. JSON strings
// are unquoted, anything else is shown as JSON.
func (f *ForwardingRequest) ContextText() string {
	var s string
	if err := json.Unmarshal(f.Context, &s); err == nil {
		return s
	}
	if bytes.Equal(bytes.TrimSpace(f.Context), []byte("null")) {
		return ""
	}
	return string(f.Context)
}

var (
	jsonBlock   = regexp.MustCompile("```(?:json)?\\s*(\\{.*?\\})\\s*```|(\\{.*?\\})")
	unicodeEsc  = regexp.MustCompile(`\\u[0-9a-fA-F]{4}`)
	mandatories = []string{"assistant", "user_request", "context"}
)

// ParseForwardingRequest extracts a forwarding instruction from a concierge
// reply. A reply without a parsable JSON object is a final answer and yields
// (nil, nil). A JSON object lacking a mandatory key, or with an empty
// assistant, user_request or context, fails with
// core.ErrMalformedForwardingRequest.
func ParseForwardingRequest(reply string) (*ForwardingRequest, error) {
	text := normalize(reply)

	if m := jsonBlock.FindStringSubmatch(text); m != nil {
		candidate := m[1]
		if candidate == "" {
			candidate = m[2]
		}
		if obj, ok := decodeObject(candidate); ok {
			return validate(obj)
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil, nil
	}

	obj, ok := decodeObject(text[start : end+1])
	if !ok {
		return nil, nil
	}

	return validate(obj)
}

// normalize decodes \uXXXX escapes and flattens line breaks to spaces.
func normalize(s string) string {
	s = unicodeEsc.ReplaceAllStringFunc(s, func(esc string) string {
		r, err := strconv.ParseUint(esc[2:], 16, 32)
		if err != nil {
			return esc
		}
		return string(rune(r))
	})

	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", `\n`, " ").Replace(s)
}

func decodeObject(s string) (map[string]json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	return obj, obj != nil
}

func validate(obj map[string]json.RawMessage) (*ForwardingRequest, error) {
	for _, k := range mandatories {
		if _, ok := obj[k]; !ok {
			return nil, core.NewError(core.KindMalformedForwardingRequest, "concierge.ParseForwardingRequest",
				"missing mandatory key %q", k)
		}
	}

	fr := &ForwardingRequest{Context: obj["context"]}

	if err := json.Unmarshal(obj["assistant"], &fr.Assistant); err != nil || strings.TrimSpace(fr.Assistant) == "" {
		return nil, core.NewError(core.KindMalformedForwardingRequest, "concierge.ParseForwardingRequest",
			"assistant must be a non-empty string")
	}
	if err := json.Unmarshal(obj["user_request"], &fr.UserRequest); err != nil || strings.TrimSpace(fr.UserRequest) == "" {
		return nil, core.NewError(core.KindMalformedForwardingRequest, "concierge.ParseForwardingRequest",
			"user_request must be a non-empty string")
	}

	if emptyJSON(fr.Context) {
		return nil, core.NewError(core.KindMalformedForwardingRequest, "concierge.ParseForwardingRequest",
			"context must not be empty")
	}

	fr.Assistant = strings.TrimSpace(fr.Assistant)

	return fr, nil
}

// emptyJSON reports whether v is null, a blank string, or an empty object or array.
func emptyJSON(v json.RawMessage) bool {
	switch string(bytes.TrimSpace(v)) {
	case "", "null", "{}", "[]":
		return true
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return strings.TrimSpace(s) == ""
	}
	return false
}
