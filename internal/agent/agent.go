// Package agent implements the Agent Runtime: a multi-turn, tool-calling
// conversational loop over an OpenAI-compatible chat completion endpoint,
// with billing accounting and pre/post-call hooks that can short-circuit
// iteration on validator success.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ModelPrice is a static USD-per-token rate pair for one model id.
type ModelPrice struct {
	InputPerToken  float64
	OutputPerToken float64
}

// DefaultPricing is the static pricing table; unknown models yield nil
// billing rather than an error.
var DefaultPricing = map[string]ModelPrice{
	"gpt-4o-mini-2024-07-18": {InputPerToken: 0.15 / 1_000_000, OutputPerToken: 0.60 / 1_000_000},
	"gpt-4o-2024-08-06":      {InputPerToken: 2.50 / 1_000_000, OutputPerToken: 10.0 / 1_000_000},
	"gpt-4-turbo":            {InputPerToken: 10.0 / 1_000_000, OutputPerToken: 30.0 / 1_000_000},
}

// functionCallingModels is the static allow-list of model ids known to
// support tool/function calling. A model absent from this table is assumed
// incapable, and Run rejects tool-calling requests against it up front
// rather than discovering the gap mid-conversation.
var functionCallingModels = map[string]bool{
	"gpt-4o-mini-2024-07-18": true,
	"gpt-4o-2024-08-06":      true,
	"gpt-4-turbo":            true,
}

// SupportsFunctionCalling reports whether model is known to support
// tool/function calling.
func SupportsFunctionCalling(model string) bool {
	return functionCallingModels[model]
}

// Billing is the USD cost accumulated for one Run call.
type Billing struct {
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Tool is one callable the agent may invoke. Parameters is a JSON schema
// object describing Func's expected argument shape.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
	Func        func(ctx context.Context, args gjson.Result) (interface{}, error)
}

func (t Tool) toOpenAI() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		},
	}
}

// Response is the Run loop's terminal value.
type Response struct {
	Text      string
	Messages  []openai.ChatCompletionMessage
	Turn      int
	Billing   *Billing
	Validated interface{} // set by a PostCall hook to request short-circuit
}

// PreCallHook observes a tool invocation before it runs. It returns nothing,
// so it cannot replace the arguments the tool receives.
type PreCallHook func(name string, args gjson.Result)

// PostCallHook observes a tool's return value after it runs. Returning a
// non-nil *Response short-circuits Run: its Messages/Turn/Billing are
// overwritten with the loop's current state before returning to the caller.
type PostCallHook func(name string, args gjson.Result, ret interface{}) *Response

// Completer is the out-of-core chat-completion collaborator: anything that
// can answer one OpenAI-format completion request.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient adapts *openai.Client to Completer.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient wraps an API key into a Completer backed by the real
// OpenAI-compatible endpoint.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{client: openai.NewClient(apiKey)}
}

// NewOpenAIClientWithBaseURL wraps an API key against a custom base URL
// (e.g. a self-hosted or alternate-provider OpenAI-compatible endpoint).
func NewOpenAIClientWithBaseURL(apiKey, baseURL string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}
}

func (c *OpenAIClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return c.client.CreateChatCompletion(ctx, req)
}

// Agent runs the multi-turn tool-calling loop.
type Agent struct {
	Completer Completer
	Pricing   map[string]ModelPrice
	PreCall   PreCallHook
	PostCall  PostCallHook
}

// New returns an Agent over completer using DefaultPricing.
func New(completer Completer) *Agent {
	return &Agent{Completer: completer, Pricing: DefaultPricing}
}

// Run executes the conversational loop.
func (a *Agent) Run(ctx context.Context, model string, messages []openai.ChatCompletionMessage, tools []Tool, temperature float32, maxTurns int, seed *int) (*Response, error) {
	if len(tools) == 0 {
		return a.runNoTools(ctx, model, messages, temperature, seed)
	}
	return a.runWithTools(ctx, model, messages, tools, temperature, maxTurns, seed)
}

func (a *Agent) runNoTools(ctx context.Context, model string, messages []openai.ChatCompletionMessage, temperature float32, seed *int) (*Response, error) {
	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
	}
	if seed != nil {
		req.Seed = seed
	}

	resp, err := a.Completer.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("agent: completion call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("agent: completion returned no choices")
	}

	assistant := resp.Choices[0].Message
	out := append(append([]openai.ChatCompletionMessage(nil), messages...), assistant)

	return &Response{
		Text:     assistant.Content,
		Messages: out,
		Turn:     1,
		Billing:  a.bill(model, resp.Usage),
	}, nil
}

func (a *Agent) runWithTools(ctx context.Context, model string, messages []openai.ChatCompletionMessage, tools []Tool, temperature float32, maxTurns int, seed *int) (*Response, error) {
	if !SupportsFunctionCalling(model) {
		return nil, fmt.Errorf("agent: model %q does not support function calling", model)
	}

	byName := make(map[string]Tool, len(tools))
	schemas := make([]openai.Tool, len(tools))
	for i, t := range tools {
		byName[t.Name] = t
		schemas[i] = t.toOpenAI()
	}

	conv := append([]openai.ChatCompletionMessage(nil), messages...)
	var billing Billing

	for turn := 1; turn <= maxTurns; turn++ {
		req := openai.ChatCompletionRequest{
			Model:       model,
			Messages:    conv,
			Tools:       schemas,
			Temperature: temperature,
		}
		if seed != nil {
			req.Seed = seed
		}

		resp, err := a.Completer.CreateChatCompletion(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("agent: completion call failed on turn %d: %w", turn, err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("agent: completion returned no choices on turn %d", turn)
		}

		assistant := resp.Choices[0].Message
		conv = append(conv, assistant)
		a.accrue(&billing, model, resp.Usage)

		if len(assistant.ToolCalls) == 0 {
			return &Response{Text: assistant.Content, Messages: conv, Turn: turn, Billing: &billing}, nil
		}

		for _, call := range assistant.ToolCalls {
			if short := a.dispatchToolCall(ctx, call, byName, &conv); short != nil {
				short.Turn = turn
				short.Billing = &billing
				short.Messages = conv
				return short, nil
			}
		}
	}

	return nil, fmt.Errorf("agent: exceeded max_turns=%d without a final response", maxTurns)
}

// dispatchToolCall resolves and invokes one tool call, appending the result
// as a tool message to *conv, and returns a non-nil short-circuit Response
// if PostCall requests one.
func (a *Agent) dispatchToolCall(ctx context.Context, call openai.ToolCall, byName map[string]Tool, conv *[]openai.ChatCompletionMessage) *Response {
	name := call.Function.Name
	args := gjson.Parse(call.Function.Arguments)

	if a.PreCall != nil {
		a.PreCall(name, args)
	}

	tool, ok := byName[name]
	if !ok {
		appendToolMessage(conv, call.ID, fmt.Sprintf(`{"error":"undefined function: %s"}`, name))
		return nil
	}

	if !args.IsObject() && call.Function.Arguments != "" {
		appendToolMessage(conv, call.ID, `{"error":"malformed json arguments"}`)
		return nil
	}

	ret, err := tool.Func(ctx, args)
	if err != nil {
		payload, _ := sjson.Set(`{}`, "error", err.Error())
		appendToolMessage(conv, call.ID, payload)
		return nil
	}

	serialized, err := json.Marshal(ret)
	if err != nil {
		payload, _ := sjson.Set(`{}`, "error", fmt.Sprintf("failed to serialize tool result: %v", err))
		appendToolMessage(conv, call.ID, payload)
		return nil
	}
	appendToolMessage(conv, call.ID, string(serialized))

	if a.PostCall != nil {
		return a.PostCall(name, args, ret)
	}
	return nil
}

func appendToolMessage(conv *[]openai.ChatCompletionMessage, toolCallID, content string) {
	*conv = append(*conv, openai.ChatCompletionMessage{
		Role:       openai.ChatMessageRoleTool,
		Content:    content,
		ToolCallID: toolCallID,
	})
}

func (a *Agent) bill(model string, usage openai.Usage) *Billing {
	price, ok := a.Pricing[model]
	if !ok {
		return nil
	}
	return &Billing{
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
		CostUSD:      float64(usage.PromptTokens)*price.InputPerToken + float64(usage.CompletionTokens)*price.OutputPerToken,
	}
}

func (a *Agent) accrue(b *Billing, model string, usage openai.Usage) {
	price, ok := a.Pricing[model]
	if !ok {
		return
	}
	b.InputTokens += usage.PromptTokens
	b.OutputTokens += usage.CompletionTokens
	b.CostUSD += float64(usage.PromptTokens)*price.InputPerToken + float64(usage.CompletionTokens)*price.OutputPerToken
}
