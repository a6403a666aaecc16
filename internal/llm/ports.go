// Package llm talks to the OpenAI API: tool-calling chat completions for
// the assistant loop and vision completions for receipt extraction.
package llm

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"chequebot/internal/core"
)

// Message is one entry of the chat transcript sent to the model. Role uses
// the OpenAI role strings (system, user, assistant, tool).
type Message struct {
	Role      string
	Content   string
	ToolCalls []ToolCall // set on assistant messages that requested tools
	CallID    string     // set on tool messages, echoes the originating call
	Name      string     // tool name on tool messages
}

// ToolCall is one function invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON object
}

// Reply is the model's answer to one chat round: either final text or a
// batch of tool calls to execute before the next round.
type Reply struct {
	Content   string
	ToolCalls []ToolCall
}

// Assistant produces one chat round given the transcript so far and the
// tool definitions the model may call.
type Assistant interface {
	Chat(ctx context.Context, messages []Message, tools []openai.Tool) (Reply, error)
}

// Extractor turns a receipt photo into structured line items. Organization
// and purchase date from the receipt header are copied onto every item.
type Extractor interface {
	ExtractReceipt(ctx context.Context, image []byte, mimeType string) ([]core.LineItem, error)
}
