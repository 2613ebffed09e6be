package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIClient implements the Client interface using the official OpenAI SDK
// through the Responses API.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient creates an OpenAI client backed by the official SDK.
func NewOpenAIClient(apiKey, modelName string) (Client, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return nil, fmt.Errorf("openai client requires an API key")
	}

	model := strings.TrimSpace(modelName)
	if model == "" {
		model = defaultOpenAIModel
	}

	return &OpenAIClient{
		client: openai.NewClient(option.WithAPIKey(key)),
		model:  model,
	}, nil
}

func (c *OpenAIClient) GetModelName() string {
	return c.model
}

func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.CompleteWithRequest(ctx, &CompletionRequest{
		Messages: []*Message{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (c *OpenAIClient) CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	params, err := c.buildResponsesParams(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai completion failed: %w", err)
	}

	return convertResponsesCompletion(resp), nil
}

func (c *OpenAIClient) buildResponsesParams(req *CompletionRequest) (responses.ResponseNewParams, error) {
	if req == nil {
		return responses.ResponseNewParams{}, fmt.Errorf("openai completion request cannot be nil")
	}

	inputItems, err := buildResponsesInput(req.Messages)
	if err != nil {
		return responses.ResponseNewParams{}, err
	}
	if len(inputItems) == 0 {
		return responses.ResponseNewParams{}, fmt.Errorf("no messages provided")
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(c.model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: inputItems,
		},
	}

	if req.SystemPrompt != "" {
		params.Instructions = openai.String(req.SystemPrompt)
	}
	if req.Temperature > 0 && !isOpenAITemperatureUnsupported(c.model) {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = convertResponsesTools(req.Tools)
	}

	return params, nil
}

func buildResponsesInput(messages []*Message) (responses.ResponseInputParam, error) {
	input := make(responses.ResponseInputParam, 0, len(messages))

	for _, msg := range messages {
		if msg == nil {
			continue
		}

		switch normalizeRole(msg.Role) {
		case "tool":
			if msg.ToolID == "" {
				continue
			}
			input = append(input, responses.ResponseInputItemParamOfFunctionCallOutput(msg.ToolID, msg.Content))
		case "assistant":
			if strings.TrimSpace(msg.Content) != "" {
				input = append(input, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleAssistant))
			}
			for _, tc := range msg.ToolCalls {
				callID, name, params, ok := ParseToolCall(tc)
				if !ok {
					continue
				}
				args := stringifyArguments(params)
				input = append(input, responses.ResponseInputItemParamOfFunctionCall(args, callID, name))
			}
		case "system":
			if strings.TrimSpace(msg.Content) == "" {
				continue
			}
			input = append(input, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleSystem))
		default:
			if strings.TrimSpace(msg.Content) == "" {
				continue
			}
			input = append(input, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleUser))
		}
	}

	return input, nil
}

func convertResponsesTools(tools []map[string]interface{}) []responses.ToolUnionParam {
	result := make([]responses.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		if toolType, _ := tool["type"].(string); toolType != "function" {
			continue
		}

		function, ok := tool["function"].(map[string]interface{})
		if !ok {
			continue
		}

		name, _ := function["name"].(string)
		if name == "" {
			continue
		}

		parameters, _ := function["parameters"].(map[string]interface{})
		description, _ := function["description"].(string)

		variant := responses.ToolParamOfFunction(name, parameters, false)
		if description != "" && variant.OfFunction != nil {
			variant.OfFunction.Description = openai.String(description)
		}

		result = append(result, variant)
	}
	return result
}

func convertResponsesCompletion(resp *responses.Response) *CompletionResponse {
	if resp == nil {
		return &CompletionResponse{}
	}

	return &CompletionResponse{
		Content:    resp.OutputText(),
		ToolCalls:  extractResponsesToolCalls(resp.Output),
		StopReason: string(resp.Status),
	}
}

func extractResponsesToolCalls(items []responses.ResponseOutputItemUnion) []map[string]interface{} {
	var toolCalls []map[string]interface{}
	for _, item := range items {
		if item.Type != "function_call" {
			continue
		}

		call := item.AsFunctionCall()
		identifier := call.CallID
		if identifier == "" {
			identifier = call.ID
		}

		toolCalls = append(toolCalls, map[string]interface{}{
			"id":   identifier,
			"type": "function",
			"function": map[string]interface{}{
				"name":      call.Name,
				"arguments": call.Arguments,
			},
		})
	}
	return toolCalls
}

func isOpenAITemperatureUnsupported(modelName string) bool {
	model := strings.ToLower(strings.TrimSpace(modelName))
	if model == "" {
		return false
	}
	return strings.Contains(model, "o1") ||
		strings.Contains(model, "o3") ||
		strings.Contains(model, "reasoning") ||
		strings.HasPrefix(model, "gpt-5")
}
