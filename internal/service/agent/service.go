package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	meshmodel "github.com/zhouzirui/mesh-coach/backend/internal/model/mesh"
	sessionmodel "github.com/zhouzirui/mesh-coach/backend/internal/model/session"
)

// Service generates agent-persona turn content through the configured chat
// model chain.
type Service struct {
	chatModel model.ChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
	streaming bool
	log       zerolog.Logger
}

// NewService compiles the prompt/model chain once; per-turn generation reuses
// it.
func NewService(ctx context.Context, chatModel model.ChatModel, streaming bool, log zerolog.Logger) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile agent chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		chain:     runnable,
		streaming: streaming,
		log:       log.With().Str("component", "agent").Logger(),
	}, nil
}

// StreamingEnabled indicates whether agent turns stream incrementally.
func (s *Service) StreamingEnabled() bool {
	return s.streaming
}

// GenerateTurn produces the agent's contribution for a persona-bound node,
// conditioned on the committed turn history and the trainee's latest input.
func (s *Service) GenerateTurn(ctx context.Context, node meshmodel.Node, history []sessionmodel.TurnRecord, traineeInput string) (string, error) {
	input := s.buildChainInput(node, history, traineeInput)

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run agent chain: %w", err)
	}

	s.log.Debug().Str("node", node.ID).Int("length", len(response.Content)).Msg("agent turn generated")
	return response.Content, nil
}

// StreamTurn generates the agent turn incrementally, handing each content
// chunk to emit as it arrives, and returns the assembled reply. An emit error
// aborts the stream.
func (s *Service) StreamTurn(ctx context.Context, node meshmodel.Node, history []sessionmodel.TurnRecord, traineeInput string, emit func(chunk string) error) (string, error) {
	if !s.streaming {
		return "", fmt.Errorf("streaming disabled in configuration")
	}

	reader, err := s.chain.Stream(ctx, s.buildChainInput(node, history, traineeInput))
	if err != nil {
		return "", fmt.Errorf("failed to stream agent chain: %w", err)
	}
	defer reader.Close()

	var full strings.Builder
	for {
		msg, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read agent stream: %w", err)
		}
		if msg.Content == "" {
			continue
		}
		full.WriteString(msg.Content)
		if emit != nil {
			if err := emit(msg.Content); err != nil {
				return "", fmt.Errorf("failed to forward agent chunk: %w", err)
			}
		}
	}

	s.log.Debug().Str("node", node.ID).Int("length", full.Len()).Msg("agent turn streamed")
	return full.String(), nil
}

func (s *Service) buildChainInput(node meshmodel.Node, history []sessionmodel.TurnRecord, traineeInput string) map[string]any {
	return map[string]any{
		"system":  BuildSystemPrompt(node),
		"history": buildHistoryMessages(history),
		"query":   traineeInput,
	}
}

// buildHistoryMessages maps the recent committed turns into chat messages.
// Trainee turns become user messages; every agent turn becomes an assistant
// message regardless of which persona spoke it, so multi-agent meshes share
// one conversational thread.
func buildHistoryMessages(history []sessionmodel.TurnRecord) []*schema.Message {
	const historyLimit = 10

	if len(history) == 0 {
		return nil
	}

	startIdx := 0
	if len(history) > historyLimit {
		startIdx = len(history) - historyLimit
	}

	messages := make([]*schema.Message, 0, len(history)-startIdx)
	for _, rec := range history[startIdx:] {
		if rec.Transcript == "" {
			continue
		}
		if rec.Speaker == sessionmodel.SpeakerTrainee {
			messages = append(messages, schema.UserMessage(rec.Transcript))
		} else {
			messages = append(messages, schema.AssistantMessage(rec.Transcript, nil))
		}
	}
	return messages
}
