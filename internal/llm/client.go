package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"chequebot/internal/core"
)

const extractionPrompt = `You read retail receipt photos. Return ONLY a JSON object, no prose:
{
  "organization": "store name, empty string if unreadable",
  "date": "purchase date as YYYY-MM-DD, empty string if unreadable",
  "items": [
    {"product": "item name", "price": "total price for the line as a decimal string", "quantity": 1, "description": "optional clarification"}
  ]
}
List every purchased line. Price is the line total, not the unit price. Omit discounts that are already folded into line prices. If the photo is not a receipt, return {"organization": "", "date": "", "items": []}.`

// Client implements Assistant and Extractor against the OpenAI API.
type Client struct {
	api             *openai.Client
	assistantModel  string
	extractionModel string
	timeout         time.Duration
}

func NewClient(apiKey, assistantModel, extractionModel string, timeout time.Duration) *Client {
	return &Client{
		api:             openai.NewClient(apiKey),
		assistantModel:  assistantModel,
		extractionModel: extractionModel,
		timeout:         timeout,
	}
}

// Chat runs one completion round with tool definitions attached.
func (c *Client) Chat(ctx context.Context, messages []Message, tools []openai.Tool) (Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:    c.assistantModel,
		Messages: toOpenAI(messages),
		Tools:    tools,
	}
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return Reply{}, wrapAPIError("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, errors.New("chat completion: empty response")
	}

	msg := resp.Choices[0].Message
	reply := Reply{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		reply.ToolCalls = append(reply.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return reply, nil
}

// ExtractReceipt sends the photo to the vision model and parses the items.
func (c *Client) ExtractReceipt(ctx context.Context, image []byte, mimeType string) ([]core.LineItem, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))

	req := openai.ChatCompletionRequest{
		Model: c.extractionModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: extractionPrompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
	}
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, wrapAPIError("receipt extraction", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("receipt extraction: empty response")
	}
	return parseExtraction(resp.Choices[0].Message.Content)
}

func toOpenAI(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		om := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.CallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, om)
	}
	return out
}

type extractionWire struct {
	Organization string `json:"organization"`
	Date         string `json:"date"`
	Items        []struct {
		Product     string      `json:"product"`
		Price       json.Number `json:"price"`
		Quantity    int64       `json:"quantity"`
		Description string      `json:"description"`
	} `json:"items"`
}

// parseExtraction decodes the model's JSON answer into line items. Lines
// with an unparseable price are skipped rather than failing the receipt.
func parseExtraction(content string) ([]core.LineItem, error) {
	cleaned := stripCodeFence(content)

	var wire extractionWire
	if err := json.Unmarshal([]byte(cleaned), &wire); err != nil {
		return nil, fmt.Errorf("decode extraction response: %w", err)
	}

	var date core.Date
	if wire.Date != "" {
		if d, err := core.ParseDate(wire.Date); err == nil {
			date = d
		}
	}

	items := make([]core.LineItem, 0, len(wire.Items))
	for _, it := range wire.Items {
		if strings.TrimSpace(it.Product) == "" {
			continue
		}
		cents, err := core.ParseDecimalToCents(it.Price.String())
		if err != nil {
			slog.Warn("skipping line with bad price", "product", it.Product, "price", it.Price.String())
			continue
		}
		items = append(items, core.LineItem{
			Organization: wire.Organization,
			Product:      it.Product,
			Description:  it.Description,
			Price:        core.Money{Cents: cents},
			Quantity:     it.Quantity,
			Date:         date,
		})
	}
	return items, nil
}

// stripCodeFence removes a surrounding markdown fence the model sometimes
// emits despite the JSON-only instruction.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// wrapAPIError marks rate limits, server errors and timeouts as transient
// so callers can tell the user to retry. Auth and bad-request failures stay
// permanent.
func wrapAPIError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500 {
			return core.Transient(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
