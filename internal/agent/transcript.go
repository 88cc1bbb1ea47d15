package agent

import "github.com/PS-dhruvi-bhimani/weekend-wizard/internal/llm"

// Transcript is the append-only message log that conditions every
// model call in one cycle. The first message is always the system
// directive.
type Transcript struct {
	msgs []llm.Message
}

// NewTranscript seeds a transcript with the system directive.
func NewTranscript(system string) *Transcript {
	return &Transcript{msgs: []llm.Message{{Role: llm.RoleSystem, Content: system}}}
}

// Append adds a message to the end of the log.
func (t *Transcript) Append(role, content string) {
	t.msgs = append(t.msgs, llm.Message{Role: role, Content: content})
}

// Messages returns a copy of the log, safe to hand to a model client.
func (t *Transcript) Messages() []llm.Message {
	out := make([]llm.Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Len returns the number of messages.
func (t *Transcript) Len() int { return len(t.msgs) }

// Last returns the most recent message.
func (t *Transcript) Last() llm.Message { return t.msgs[len(t.msgs)-1] }
