// Package memory turns a user's stored history and facts into the text
// block injected into every prompt. Everything here is pure: no I/O, no
// errors, same output for the same input.
package memory

import (
	"strings"

	"github.com/scrypster/memochat/pkg/types"
)

// DefaultWindow is the number of recent exchanges rendered into the context.
const DefaultWindow = 5

const (
	historyHeader = "Recent conversation:"
	factsHeader   = "Known facts about the user:"
)

// BuildContext renders recent exchanges and facts into a context block.
//
// recent must be ordered most recent first, as the store returns it. At most
// window entries are taken from the front of recent and rendered oldest
// first. A window below 1 means DefaultWindow. Empty sections are omitted,
// so no history and no facts yields "".
func BuildContext(recent []*types.ConversationRecord, facts []*types.MemoryFact, window int) string {
	if window < 1 {
		window = DefaultWindow
	}
	if len(recent) > window {
		recent = recent[:window]
	}

	var sections []string

	if len(recent) > 0 {
		var b strings.Builder
		b.WriteString(historyHeader)
		for i := len(recent) - 1; i >= 0; i-- {
			rec := recent[i]
			if rec == nil {
				continue
			}
			b.WriteString("\nUser: ")
			b.WriteString(rec.Message)
			b.WriteString("\nAssistant: ")
			b.WriteString(rec.Response)
		}
		sections = append(sections, b.String())
	}

	if len(facts) > 0 {
		var b strings.Builder
		b.WriteString(factsHeader)
		for _, f := range facts {
			if f == nil {
				continue
			}
			b.WriteString("\n")
			b.WriteString(f.Key)
			b.WriteString(": ")
			b.WriteString(f.Value)
		}
		sections = append(sections, b.String())
	}

	return strings.Join(sections, "\n\n")
}

// BuildPrompt concatenates the persona preamble, the context block and the
// new user turn. The trailing "Assistant:" cues the model to answer.
func BuildPrompt(persona, contextBlock, message string) string {
	var b strings.Builder
	if persona != "" {
		b.WriteString(strings.TrimSpace(persona))
		b.WriteString("\n\n")
	}
	if contextBlock != "" {
		b.WriteString(contextBlock)
		b.WriteString("\n\n")
	}
	b.WriteString("User: ")
	b.WriteString(message)
	b.WriteString("\nAssistant:")
	return b.String()
}
