package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/colmenacrm/colmena/internal/config"
)

// Engine decides how the bot responds to an inbound message. It asks a
// chat-completion model for a JSON verdict and never lets a model
// failure propagate as anything other than an error the caller can log
// and move past.
type Engine struct {
	client  openai.Client
	model   string
	logger  *slog.Logger
	enabled bool
}

// NewEngine creates a decision engine. With no API key configured the
// engine stays disabled and Decide always returns nil.
func NewEngine(log *slog.Logger, cfg config.BotConfig) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		model:  cfg.Model,
		logger: log.With(slog.String("service", "bot")),
	}
	if e.model == "" {
		e.model = config.DefaultBotModel
	}
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		e.logger.Warn("no bot api key configured, decision engine disabled")
		return e
	}
	opts := []option.RequestOption{option.WithAPIKey(key)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	e.client = openai.NewClient(opts...)
	e.enabled = true
	return e
}

// Enabled reports whether the engine will ever produce decisions.
func (e *Engine) Enabled() bool {
	return e.enabled
}

// Decide asks the model what to do with one inbound message. A nil
// decision with nil error means "stay silent" (engine disabled, or the
// model produced nothing usable).
func (e *Engine) Decide(ctx context.Context, input DecideInput) (*Decision, error) {
	if !e.enabled {
		return nil, nil
	}
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, nil
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(input.History)+2)
	messages = append(messages, openai.SystemMessage(systemPrompt(input.SchoolName, input.ContactName)))
	for _, turn := range input.History {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		if turn.Role == RoleAssistant {
			messages = append(messages, openai.AssistantMessage(content))
		} else {
			messages = append(messages, openai.UserMessage(content))
		}
	}
	messages = append(messages, openai.UserMessage(text))

	completion, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(e.model),
		Messages: messages,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		e.logger.Warn("model returned no choices", slog.String("model", e.model))
		return nil, nil
	}
	raw := strings.TrimSpace(completion.Choices[0].Message.Content)
	if raw == "" {
		e.logger.Warn("model returned empty content", slog.String("model", e.model))
		return nil, nil
	}

	var decision Decision
	if err := json.Unmarshal([]byte(raw), &decision); err != nil {
		e.logger.Warn("model verdict is not valid json",
			slog.String("model", e.model),
			slog.String("content", raw))
		return nil, nil
	}
	decision.Reply = strings.TrimSpace(decision.Reply)
	decision.Reason = strings.TrimSpace(decision.Reason)
	decision.Model = e.model
	if decision.Reply == "" && !decision.Handover {
		return nil, nil
	}
	return &decision, nil
}
