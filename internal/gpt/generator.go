package gpt

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/Lugzan151892/gradiorai-backend/internal/config"
)

// Chat roles accepted by the generator.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one entry of a completion request.
type ChatMessage struct {
	Role    string
	Content string
}

// CompletionRequest describes a single streaming completion call.
type CompletionRequest struct {
	Model       string
	Temperature float32
	Messages    []ChatMessage
}

// TokenStream yields completion output fragments in order. Recv returns
// io.EOF when the stream is exhausted.
type TokenStream interface {
	Recv() (string, error)
	Close()
}

// Generator is the single gateway to the external language model.
type Generator interface {
	StreamCompletion(ctx context.Context, req CompletionRequest) (TokenStream, error)
}

// EinoGenerator implements Generator on top of eino chat models, choosing the
// provider from the requested model name. Constructed models are cached per
// provider and model.
type EinoGenerator struct {
	providers map[string]config.ProviderConfig

	mu     sync.Mutex
	models map[string]model.ToolCallingChatModel
}

// NewEinoGenerator builds a generator over the configured providers.
func NewEinoGenerator(providers map[string]config.ProviderConfig) *EinoGenerator {
	return &EinoGenerator{
		providers: providers,
		models:    make(map[string]model.ToolCallingChatModel),
	}
}

// StreamCompletion opens a streaming completion for the request.
func (g *EinoGenerator) StreamCompletion(ctx context.Context, req CompletionRequest) (TokenStream, error) {
	chatModel, err := g.chatModel(ctx, req.Model)
	if err != nil {
		return nil, err
	}

	messages := make([]*schema.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		var role schema.RoleType
		switch m.Role {
		case RoleSystem:
			role = schema.System
		case RoleAssistant:
			role = schema.Assistant
		default:
			role = schema.User
		}
		messages = append(messages, &schema.Message{Role: role, Content: m.Content})
	}

	reader, err := chatModel.Stream(ctx, messages, model.WithTemperature(req.Temperature))
	if err != nil {
		return nil, fmt.Errorf("open completion stream: %w", err)
	}
	return &einoStream{reader: reader}, nil
}

type einoStream struct {
	reader *schema.StreamReader[*schema.Message]
}

func (s *einoStream) Recv() (string, error) {
	chunk, err := s.reader.Recv()
	if err != nil {
		if err == io.EOF {
			return "", io.EOF
		}
		return "", fmt.Errorf("recv completion fragment: %w", err)
	}
	return chunk.Content, nil
}

func (s *einoStream) Close() {
	s.reader.Close()
}

func (g *EinoGenerator) chatModel(ctx context.Context, modelName string) (model.ToolCallingChatModel, error) {
	provider := providerForModel(modelName)

	g.mu.Lock()
	defer g.mu.Unlock()
	key := provider + "/" + modelName
	if m, ok := g.models[key]; ok {
		return m, nil
	}

	provCfg, ok := g.providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}

	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{APIKey: provCfg.APIKey})
		if err != nil {
			return nil, fmt.Errorf("init gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}

	g.models[key] = chatModel
	return chatModel, nil
}

func providerForModel(modelName string) string {
	switch {
	case strings.HasPrefix(modelName, "claude"):
		return "claude"
	case strings.HasPrefix(modelName, "gemini"):
		return "gemini"
	default:
		return "openai"
	}
}
