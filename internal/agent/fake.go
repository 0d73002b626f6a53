package agent

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
)

// FakeCompleter scripts a fixed sequence of completion responses for
// deterministic tests: the Nth call to CreateChatCompletion returns
// Responses[N], looping on the last entry if more calls occur than entries.
type FakeCompleter struct {
	Responses []openai.ChatCompletionResponse
	Err       error

	calls int
}

func (f *FakeCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if f.Err != nil {
		return openai.ChatCompletionResponse{}, f.Err
	}
	if len(f.Responses) == 0 {
		return openai.ChatCompletionResponse{}, nil
	}
	idx := f.calls
	if idx >= len(f.Responses) {
		idx = len(f.Responses) - 1
	}
	f.calls++
	return f.Responses[idx], nil
}

// Calls reports how many times CreateChatCompletion has been invoked.
func (f *FakeCompleter) Calls() int { return f.calls }

// TextResponse builds a single-choice completion with no tool calls.
func TextResponse(text string, promptTokens, completionTokens int) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text}},
		},
		Usage: openai.Usage{PromptTokens: promptTokens, CompletionTokens: completionTokens, TotalTokens: promptTokens + completionTokens},
	}
}

// ToolCallResponse builds a single-choice completion requesting one tool
// call by name with the given raw JSON arguments.
func ToolCallResponse(toolCallID, name, arguments string, promptTokens, completionTokens int) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{
					{
						ID:   toolCallID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      name,
							Arguments: arguments,
						},
					},
				},
			}},
		},
		Usage: openai.Usage{PromptTokens: promptTokens, CompletionTokens: completionTokens, TotalTokens: promptTokens + completionTokens},
	}
}
