package upstream

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"gopkg.in/yaml.v3"

	"kenbright-chat-gateway/internal/types"
)

// PromptSpec configures the answerer's behavior from a YAML file so prompt
// tuning does not require a rebuild.
type PromptSpec struct {
	System    string   `yaml:"system"`
	FollowUps []string `yaml:"follow_ups"`
	Style     struct {
		Temperature float32 `yaml:"temperature"`
		MaxTokens   int     `yaml:"max_tokens"`
	} `yaml:"style"`
}

func LoadPromptSpec(path string) (PromptSpec, error) {
	var spec PromptSpec
	b, err := os.ReadFile(path)
	if err != nil {
		return spec, err
	}
	if err := yaml.Unmarshal(b, &spec); err != nil {
		return spec, err
	}
	return spec, nil
}

// OpenAIAnswerer generates answers with the OpenAI chat API. It carries no
// retrieval index, so it never emits sources; it exists for local development
// against the real stream protocol.
type OpenAIAnswerer struct {
	client *openai.Client
	model  string
	spec   PromptSpec
}

func NewOpenAIAnswerer(client *openai.Client, model string, spec PromptSpec) *OpenAIAnswerer {
	return &OpenAIAnswerer{client: client, model: model, spec: spec}
}

func (a *OpenAIAnswerer) request(question string) openai.ChatCompletionRequest {
	temp := a.spec.Style.Temperature
	if temp <= 0 {
		temp = 0.2
	}
	maxTok := a.spec.Style.MaxTokens
	if maxTok <= 0 {
		maxTok = 800
	}
	messages := []openai.ChatCompletionMessage{}
	if strings.TrimSpace(a.spec.System) != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: a.spec.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: question,
	})
	return openai.ChatCompletionRequest{
		Model:       a.model,
		Temperature: temp,
		MaxTokens:   maxTok,
		Messages:    messages,
	}
}

func (a *OpenAIAnswerer) Ask(ctx context.Context, question string) (*Answer, error) {
	resp, err := a.client.CreateChatCompletion(ctx, a.request(question))
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no choices in completion response")
	}
	return &Answer{
		Answer:    resp.Choices[0].Message.Content,
		FollowUps: a.spec.FollowUps,
	}, nil
}

func (a *OpenAIAnswerer) AskStream(ctx context.Context, question string, emit Emit) error {
	req := a.request(question)
	req.Stream = true
	stream, err := a.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return err
	}
	defer stream.Close()

	var builder strings.Builder
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		chunk := resp.Choices[0].Delta.Content
		if chunk == "" {
			continue
		}
		builder.WriteString(chunk)
		if err := emit(types.StreamEvent{Type: types.EventToken, Value: chunk}); err != nil {
			return err
		}
	}
	return emit(types.StreamEvent{Type: types.EventDone, Answer: builder.String()})
}
