package concierge

import (
	"bytes"
	"encoding/json"

	"github.com/hupe1980/fundusmesh/internal/util"
)

// AssistantsPlaceholder marks where the specialist list is inserted into the
// concierge instruction.
const AssistantsPlaceholder = "{{ .Assistants }}"

// DefaultConciergeInstruction is used when no instruction template is configured.
const DefaultConciergeInstruction = `# Your Role

You are a helpful AI concierge. If you do not know or are unsure about the answer to a user request, delegate it to one of your expert assistants.

# Assistant Calling Guidelines

- To delegate a user request to an assistant, output only the following JSON:
` + "```json" + `
{
    "assistant": <ASSISTANT_NAME>,
    "user_request": "<USER_REQUEST>",
    "context": <CONTEXT>
}
` + "```" + `
- The assistant will return with an answer to you. Finally, communicate the answer to the user.

` + AssistantsPlaceholder

var (
	assistantsListTmpl = util.MustParse("assistants", `
# Your Assistants

You have the following assistants at your disposal:
{{ range . }}
**{{ .Name }}**
   name: `+"`{{ .ID }}`"+`
   description: {{ .Description }}
{{ end }}`)

	forwardTmpl = util.MustParse("forward", `# User Request

{{ .UserRequest }}

# Context Information

{{ .Context }}`)

	feedbackTmpl = util.MustParse("feedback", `# Original User Request

{{ .OriginalRequest }}

# Forwarded Request

{{ .ForwardedRequest }}

# Assistant Response

This is the response from the {{ .Assistant }} assistant:

'''
{{ .Response }}
'''`)
)

// RenderAssistantsList renders the specialist roles as shown to the concierge.
func RenderAssistantsList(roles []Role) (string, error) {
	return util.Execute(assistantsListTmpl, roles)
}

// RenderConciergeInstruction substitutes the specialist list into tmpl.
func RenderConciergeInstruction(tmpl string, roles []Role) (string, error) {
	list, err := RenderAssistantsList(roles)
	if err != nil {
		return "", err
	}
	return util.RenderTemplate(tmpl, map[string]any{"Assistants": list})
}

// RenderForward builds the message sent to the specialist.
func RenderForward(fr *ForwardingRequest) (string, error) {
	return util.Execute(forwardTmpl, map[string]string{
		"UserRequest": fr.UserRequest,
		"Context":     fr.ContextText(),
	})
}

// RenderFeedback builds the message that hands a specialist answer back to
// the concierge.
func RenderFeedback(original string, fr *ForwardingRequest, response string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(fr); err != nil {
		return "", err
	}
	forwarded := bytes.TrimRight(buf.Bytes(), "\n")

	return util.Execute(feedbackTmpl, map[string]string{
		"OriginalRequest":  original,
		"ForwardedRequest": string(forwarded),
		"Assistant":        fr.Assistant,
		"Response":         response,
	})
}
