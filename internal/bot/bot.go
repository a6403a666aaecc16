// Package bot is the conversational front: it serializes each user's
// events, routes photos to ingestion and text to the assistant's
// tool-calling loop, and keeps the per-user context in step.
package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"chequebot/internal/convo"
	"chequebot/internal/core"
	"chequebot/internal/format"
	"chequebot/internal/ingest"
	"chequebot/internal/llm"
	"chequebot/internal/tools"
)

type EventKind string

const (
	EventText    EventKind = "text"
	EventPhoto   EventKind = "photo"
	EventCommand EventKind = "command"
)

// Event is one inbound user message, already decoded by the transport.
type Event struct {
	UserID     string
	Kind       EventKind
	Text       string
	Photo      []byte
	MimeType   string
	MessageRef string
}

// Ingester runs the receipt pipeline; satisfied by ingest.Coordinator.
type Ingester interface {
	Ingest(ctx context.Context, userID string, image []byte, mimeType, messageRef string) (format.IngestReport, error)
}

// Invoker executes tool calls; satisfied by tools.Dispatcher.
type Invoker interface {
	Invoke(ctx context.Context, userID, name string, args json.RawMessage) (tools.Result, error)
	InvalidateUser(userID string)
}

type Bot struct {
	assistant  llm.Assistant
	dispatcher Invoker
	ingester   Ingester
	convo      *convo.Manager
	catalogue  []openai.Tool
	toolRounds int

	mu    sync.Mutex
	lanes map[string]*lane
}

// lane serializes one user's events. The cancel handle of the operation
// currently running on it lives behind the bot's own mutex, because /clear
// reads it without waiting for the lane.
type lane struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

func New(assistant llm.Assistant, dispatcher Invoker, ingester Ingester, cm *convo.Manager, toolRounds int) *Bot {
	if toolRounds < 1 {
		toolRounds = 1
	}
	return &Bot{
		assistant:  assistant,
		dispatcher: dispatcher,
		ingester:   ingester,
		convo:      cm,
		catalogue:  tools.Catalogue(),
		toolRounds: toolRounds,
		lanes:      make(map[string]*lane),
	}
}

// Handle processes one event and returns the reply text. Events of the
// same user run strictly one at a time; /clear additionally cancels
// whatever is in flight for that user before taking its turn.
func (b *Bot) Handle(ctx context.Context, ev Event) (string, error) {
	if strings.TrimSpace(ev.UserID) == "" {
		return "", errors.New("event without user id")
	}
	if ev.Kind == EventCommand && command(ev.Text) == "/clear" {
		b.cancelInFlight(ev.UserID)
	}

	ln := b.lane(ev.UserID)
	ln.mu.Lock()
	defer ln.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	b.setCancel(ln, cancel)
	defer b.setCancel(ln, nil)

	switch ev.Kind {
	case EventCommand:
		return b.handleCommand(ev), nil
	case EventPhoto:
		return b.handlePhoto(ctx, ev)
	case EventText:
		return b.handleText(ctx, ev)
	default:
		return "", fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

func (b *Bot) lane(userID string) *lane {
	b.mu.Lock()
	defer b.mu.Unlock()
	ln, ok := b.lanes[userID]
	if !ok {
		ln = &lane{}
		b.lanes[userID] = ln
	}
	return ln
}

func (b *Bot) setCancel(ln *lane, cancel context.CancelFunc) {
	b.mu.Lock()
	ln.cancel = cancel
	b.mu.Unlock()
}

func (b *Bot) cancelInFlight(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ln := b.lanes[userID]; ln != nil && ln.cancel != nil {
		ln.cancel()
	}
}

func command(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

func (b *Bot) handleCommand(ev Event) string {
	switch command(ev.Text) {
	case "/start", "/help":
		return format.Help()
	case "/clear":
		b.convo.Clear(ev.UserID)
		return "Conversation cleared. Your records are untouched."
	default:
		return "Unknown command. Try /help."
	}
}

func (b *Bot) handlePhoto(ctx context.Context, ev Event) (string, error) {
	report, err := b.ingester.Ingest(ctx, ev.UserID, ev.Photo, ev.MimeType, ev.MessageRef)
	if err != nil {
		return userMessage(err), nil
	}

	// The new records must beat any cached tool reads.
	b.dispatcher.InvalidateUser(ev.UserID)
	b.convo.SetLastReceipt(ev.UserID, report.ReceiptID)
	reply := report.String()
	b.convo.Append(ev.UserID, convo.Turn{Role: convo.RoleUser, Content: "[receipt photo]"})
	b.convo.Append(ev.UserID, convo.Turn{Role: convo.RoleAssistant, Content: reply})
	return reply, nil
}

func (b *Bot) handleText(ctx context.Context, ev Event) (string, error) {
	msgs := []llm.Message{{Role: openai.ChatMessageRoleSystem, Content: systemPrompt()}}
	for _, turn := range b.convo.Recent(ev.UserID) {
		msgs = append(msgs, llm.Message{Role: string(turn.Role), Content: turn.Content})
	}
	msgs = append(msgs, llm.Message{Role: openai.ChatMessageRoleUser, Content: ev.Text})

	record := func(reply string) {
		b.convo.Append(ev.UserID, convo.Turn{Role: convo.RoleUser, Content: ev.Text})
		b.convo.Append(ev.UserID, convo.Turn{Role: convo.RoleAssistant, Content: reply})
	}

	// Text of the last successful read, so the user still gets their data
	// when the model cannot produce a final answer.
	var lastText string

	for round := 0; round < b.toolRounds; round++ {
		reply, err := b.assistant.Chat(ctx, msgs, b.catalogue)
		if err != nil {
			if ctx.Err() != nil {
				return "Cancelled.", nil
			}
			msg := userMessage(err)
			if lastText != "" {
				msg += "\nHere is the last data I fetched:\n" + lastText
			}
			return msg, nil
		}
		if len(reply.ToolCalls) == 0 {
			record(reply.Content)
			return reply.Content, nil
		}

		msgs = append(msgs, llm.Message{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   reply.Content,
			ToolCalls: reply.ToolCalls,
		})
		for _, call := range reply.ToolCalls {
			res, err := b.dispatcher.Invoke(ctx, ev.UserID, call.Name, json.RawMessage(call.Arguments))
			out := res.Payload
			if err != nil {
				if ctx.Err() != nil {
					return "Cancelled.", nil
				}
				// The model sees the failure and can rephrase or apologize;
				// transport errors for one call must not kill the round.
				out = toolErrorPayload(err)
			} else if res.Text != "" {
				lastText = res.Text
			}
			msgs = append(msgs, llm.Message{
				Role:    openai.ChatMessageRoleTool,
				Content: out,
				CallID:  call.ID,
				Name:    call.Name,
			})
		}
	}

	slog.WarnContext(ctx, "Tool round limit reached", "user_id", ev.UserID)
	reply := "That request needed more steps than I allow in one go. Try narrowing it down."
	if lastText != "" {
		reply = "That took more steps than I allow in one go. Here is the last data I fetched:\n" + lastText
	}
	record(reply)
	return reply, nil
}

func toolErrorPayload(err error) string {
	payload, merr := json.Marshal(map[string]string{"error": err.Error()})
	if merr != nil {
		return `{"error": "tool failed"}`
	}
	return string(payload)
}

// userMessage converts internal failures into replies a person can act on.
func userMessage(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "Cancelled."
	case errors.Is(err, ingest.ErrNoItems):
		return "I couldn't find any purchases on that photo. Is it a receipt?"
	case core.IsTransient(err):
		return "Something is temporarily unavailable on my side. Please try again in a minute."
	case errors.Is(err, core.ErrNotFound):
		return "I couldn't find that record."
	default:
		return "Something went wrong while processing that. Please try again."
	}
}

func systemPrompt() string {
	return fmt.Sprintf(`You are an expense tracking assistant. Today is %s.
You answer questions about the user's recorded purchases using the provided
tools, and you modify records only when the user explicitly asks. Always
call a tool rather than guessing numbers. Amounts in tool results are
decimal strings in the user's currency. Reply concisely in plain text.`,
		core.Today())
}
