// Package prompt renders chat turns into the Llama 3 instruct template and
// recovers plain assistant text from decoded model output.
package prompt

import "strings"

// Llama 3 instruct control tokens. The model was tuned on this exact layout,
// so every delimiter is emitted verbatim and in order.
const (
	StartHeader = "<|start_header_id|>"
	EndHeader   = "<|end_header_id|>"
	EndOfTurn   = "<|eot_id|>"

	SystemHeader    = StartHeader + "system" + EndHeader + "\n"
	UserHeader      = StartHeader + "user" + EndHeader + "\n"
	AssistantHeader = StartHeader + "assistant" + EndHeader + "\n"
)

// Frame renders a system/user pair and opens the assistant turn.
func Frame(system, user string) string {
	var b strings.Builder
	b.Grow(len(SystemHeader) + len(UserHeader) + len(AssistantHeader) + 2*len(EndOfTurn) + len(system) + len(user))
	b.WriteString(SystemHeader)
	b.WriteString(system)
	b.WriteString(EndOfTurn)
	b.WriteString(UserHeader)
	b.WriteString(user)
	b.WriteString(EndOfTurn)
	b.WriteString(AssistantHeader)
	return b.String()
}

// Clean keeps only the text after the last assistant header, drops every
// end-of-turn token and trims surrounding whitespace. Output without an
// assistant header is stripped and trimmed as a whole.
func Clean(raw string) string {
	if i := strings.LastIndex(raw, AssistantHeader); i >= 0 {
		raw = raw[i+len(AssistantHeader):]
	}
	return strings.TrimSpace(strings.ReplaceAll(raw, EndOfTurn, ""))
}

// StopSequences are passed to the runtime so generation ends at the turn boundary.
func StopSequences() []string {
	return []string{EndOfTurn, StartHeader}
}
