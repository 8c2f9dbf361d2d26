package gpt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Lugzan151892/gradiorai-backend/internal/achievements"
	"github.com/Lugzan151892/gradiorai-backend/internal/broadcast"
	"github.com/Lugzan151892/gradiorai-backend/internal/interview"
	"github.com/Lugzan151892/gradiorai-backend/internal/models"
	"github.com/Lugzan151892/gradiorai-backend/internal/rating"
)

// PerfectScore is the verdict score that unlocks the perfect-interview
// achievement.
const PerfectScore = 10

// Service runs interview turns: it streams the generator's output through
// the sentinel splitter, fans narration out on the hub, and persists the
// outcome once the stream is drained.
type Service struct {
	generator    Generator
	interviews   *interview.Service
	settings     *SettingsStore
	ratings      *rating.Service
	achievements *achievements.Service
	hub          *broadcast.Hub
	logger       *zap.Logger
	guard        *turnGuard
}

func NewService(
	generator Generator,
	interviews *interview.Service,
	settings *SettingsStore,
	ratings *rating.Service,
	achievementsSvc *achievements.Service,
	hub *broadcast.Hub,
	logger *zap.Logger,
) *Service {
	return &Service{
		generator:    generator,
		interviews:   interviews,
		settings:     settings,
		ratings:      ratings,
		achievements: achievementsSvc,
		hub:          hub,
		logger:       logger,
		guard:        newTurnGuard(),
	}
}

// Settings exposes the profile store for administrative tuning.
func (s *Service) Settings() *SettingsStore {
	return s.settings
}

// StartTurn launches the next assistant turn asynchronously. It returns
// ErrTurnInProgress when another turn already holds the interview; otherwise
// the turn runs detached from the caller's request and its outcome is
// observable on the hub.
func (s *Service) StartTurn(iv *models.Interview, admin bool) error {
	if iv.Finished {
		return interview.ErrFinished
	}
	if !s.guard.tryAcquire(iv.ID) {
		return ErrTurnInProgress
	}
	go func() {
		defer s.guard.release(iv.ID)
		if err := s.runTurn(context.Background(), iv, admin); err != nil {
			s.logger.Error("interview turn failed",
				zap.String("interview_id", iv.ID),
				zap.Error(err))
		}
	}()
	return nil
}

// RunTurn executes one turn synchronously under the single-flight guard.
// Used by tests and by callers that need the turn's error.
func (s *Service) RunTurn(ctx context.Context, iv *models.Interview, admin bool) error {
	if iv.Finished {
		return interview.ErrFinished
	}
	if !s.guard.tryAcquire(iv.ID) {
		return ErrTurnInProgress
	}
	defer s.guard.release(iv.ID)
	return s.runTurn(ctx, iv, admin)
}

func (s *Service) runTurn(ctx context.Context, iv *models.Interview, admin bool) error {
	st, err := s.settings.Get(ctx, KindInterview)
	if err != nil {
		return err
	}

	req := buildTurnRequest(iv, st, admin)
	stream, err := s.generator.StreamCompletion(ctx, req)
	if err != nil {
		return fmt.Errorf("start completion: %w", err)
	}
	defer stream.Close()

	split := newSplitter(func(text string) {
		s.hub.Publish(broadcast.StreamEvent{
			Type:        broadcast.EventChunk,
			InterviewID: iv.ID,
			Text:        text,
		})
	})

	for {
		fragment, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read completion stream: %w", err)
		}
		split.Feed(fragment)
	}

	payload, isResult := split.Close()
	if !isResult {
		updated, err := s.interviews.AppendMessage(ctx, iv.ID, split.FullText(), false)
		if err != nil {
			return fmt.Errorf("save assistant message: %w", err)
		}
		s.hub.Publish(broadcast.StreamEvent{
			Type:        broadcast.EventSaved,
			InterviewID: iv.ID,
			Interview:   updated,
		})
		return nil
	}

	var verdict models.Verdict
	if err := json.Unmarshal([]byte(payload), &verdict); err != nil {
		return fmt.Errorf("parse verdict payload: %w", err)
	}

	finalized, err := s.interviews.Finalize(ctx, iv.ID, verdict.Summary, verdict.Score, verdict.Success)
	if err != nil {
		return fmt.Errorf("finalize interview: %w", err)
	}

	score, err := ParseScore(verdict.Score)
	if err != nil {
		s.logger.Warn("unparseable verdict score",
			zap.String("interview_id", iv.ID),
			zap.String("score", verdict.Score))
	} else {
		if err := s.ratings.RecordInterviewOutcome(ctx, iv.UserID, score, verdict.Success); err != nil {
			s.logger.Error("record interview rating",
				zap.String("interview_id", iv.ID),
				zap.Error(err))
		}
		if score == PerfectScore {
			if _, err := s.achievements.Trigger(ctx, iv.UserID, achievements.KindInterviewPerfectScore); err != nil {
				s.logger.Error("trigger perfect score achievement",
					zap.String("interview_id", iv.ID),
					zap.Error(err))
			}
		}
	}
	if _, err := s.achievements.Trigger(ctx, iv.UserID, achievements.KindFirstInterview); err != nil {
		s.logger.Error("trigger first interview achievement",
			zap.String("interview_id", iv.ID),
			zap.Error(err))
	}

	s.hub.Publish(broadcast.StreamEvent{
		Type:        broadcast.EventResult,
		InterviewID: iv.ID,
		Interview:   finalized,
	})
	return nil
}

// buildTurnRequest assembles the completion call for the next assistant turn.
// All messages except the one being answered are flattened into a numbered
// transcript injected into the system instructions; the message being
// answered is the last human message, or the interview's user prompt verbatim
// when no human message exists yet.
func buildTurnRequest(iv *models.Interview, st Settings, admin bool) CompletionRequest {
	answering := -1
	for i := len(iv.Messages) - 1; i >= 0; i-- {
		if iv.Messages[i].IsHuman {
			answering = i
			break
		}
	}

	var transcript strings.Builder
	n := 0
	for i, m := range iv.Messages {
		if i == answering {
			continue
		}
		n++
		speaker := "Interviewer"
		if m.IsHuman {
			speaker = "Candidate"
		}
		fmt.Fprintf(&transcript, "%d. %s: %s\n", n, speaker, m.Text)
	}

	system := ReplacePromptKeywords(st.SystemMessage, map[string]string{
		"$CHAT_HISTORY": transcript.String(),
	})

	userContent := iv.UserPrompt
	if answering >= 0 {
		userContent = iv.Messages[answering].Text
	}

	return CompletionRequest{
		Model:       st.Model(admin),
		Temperature: st.Temperature,
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: system},
			{Role: RoleUser, Content: userContent},
		},
	}
}

// ParseScore extracts the numeric part of a verdict score like "7/10".
func ParseScore(score string) (int, error) {
	head, _, _ := strings.Cut(score, "/")
	n, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil {
		return 0, fmt.Errorf("parse score %q: %w", score, err)
	}
	return n, nil
}

// Generate runs a non-streaming completion for the kind, used for test
// question generation and resume tooling. Keywords fill the profile's
// templates; userContent, when set, is sent as the user message.
func (s *Service) Generate(ctx context.Context, kind SettingsKind, admin bool, keywords map[string]string, userContent string) (string, error) {
	st, err := s.settings.Get(ctx, kind)
	if err != nil {
		return "", err
	}

	if keywords == nil {
		keywords = map[string]string{}
	}
	if _, ok := keywords["$QUESTIONS_AMOUNT"]; !ok {
		keywords["$QUESTIONS_AMOUNT"] = strconv.Itoa(st.Amount(admin))
	}

	system := ReplacePromptKeywords(st.SystemMessage, keywords)
	user := userContent
	if user == "" {
		user = ReplacePromptKeywords(st.UserMessage, keywords)
	}

	req := CompletionRequest{
		Model:       st.Model(admin),
		Temperature: st.Temperature,
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: system},
			{Role: RoleUser, Content: user},
		},
	}
	stream, err := s.generator.StreamCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("start completion: %w", err)
	}
	defer stream.Close()

	var out strings.Builder
	for {
		fragment, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read completion stream: %w", err)
		}
		out.WriteString(fragment)
	}
	return out.String(), nil
}
