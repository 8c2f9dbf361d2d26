package interview

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Lugzan151892/gradiorai-backend/internal/models"
)

var (
	// ErrNotFound is returned when no interview exists for the id.
	ErrNotFound = errors.New("interview not found")
	// ErrFinished is returned for writes against a finalized interview.
	ErrFinished = errors.New("interview already finished")
)

// Service persists interviews and their message history.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Create stores a fresh interview owned by the user.
func (s *Service) Create(ctx context.Context, userID int64, userPrompt string) (*models.Interview, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO interviews (id, user_id, user_prompt, finished, recommendations, score, success, created_at, updated_at)
		 VALUES (?, ?, ?, 0, '', '', 0, ?, ?)`,
		id, userID, userPrompt, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create interview: %w", err)
	}
	return &models.Interview{
		ID:         id,
		UserID:     userID,
		UserPrompt: userPrompt,
		Messages:   []models.Message{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Get loads the interview with its messages in chronological order.
func (s *Service) Get(ctx context.Context, id string) (*models.Interview, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, user_prompt, finished, recommendations, score, success, created_at, updated_at
		 FROM interviews WHERE id = ?`, id,
	)
	var iv models.Interview
	err := row.Scan(&iv.ID, &iv.UserID, &iv.UserPrompt, &iv.Finished,
		&iv.Recommendations, &iv.Score, &iv.Success, &iv.CreatedAt, &iv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query interview: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, interview_id, is_human, text, created_at
		 FROM messages WHERE interview_id = ? ORDER BY id ASC`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	iv.Messages = []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.InterviewID, &m.IsHuman, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		iv.Messages = append(iv.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return &iv, nil
}

// AppendMessage adds one message and returns the updated record. Finalized
// interviews are immutable.
func (s *Service) AppendMessage(ctx context.Context, interviewID, text string, isHuman bool) (*models.Interview, error) {
	iv, err := s.Get(ctx, interviewID)
	if err != nil {
		return nil, err
	}
	if iv.Finished {
		return nil, ErrFinished
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (interview_id, is_human, text, created_at) VALUES (?, ?, ?, ?)`,
		interviewID, isHuman, text, now,
	); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE interviews SET updated_at = ? WHERE id = ?`, now, interviewID,
	); err != nil {
		return nil, fmt.Errorf("touch interview: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	return s.Get(ctx, interviewID)
}

// Finalize moves the interview to its terminal state. The guarded UPDATE
// makes finalization exactly-once: a second call finds no unfinished row and
// reports ErrFinished.
func (s *Service) Finalize(ctx context.Context, interviewID, summary, score string, success bool) (*models.Interview, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE interviews SET finished = 1, recommendations = ?, score = ?, success = ?, updated_at = ?
		 WHERE id = ? AND finished = 0`,
		summary, score, success, time.Now().UTC(), interviewID,
	)
	if err != nil {
		return nil, fmt.Errorf("finalize interview: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("finalize interview: %w", err)
	}
	if affected == 0 {
		if _, err := s.Get(ctx, interviewID); err != nil {
			return nil, err
		}
		return nil, ErrFinished
	}
	return s.Get(ctx, interviewID)
}

// ListByUser returns the user's interviews, newest first, without messages.
func (s *Service) ListByUser(ctx context.Context, userID int64) ([]models.Interview, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, user_prompt, finished, recommendations, score, success, created_at, updated_at
		 FROM interviews WHERE user_id = ? ORDER BY created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list interviews: %w", err)
	}
	defer rows.Close()

	list := []models.Interview{}
	for rows.Next() {
		var iv models.Interview
		if err := rows.Scan(&iv.ID, &iv.UserID, &iv.UserPrompt, &iv.Finished,
			&iv.Recommendations, &iv.Score, &iv.Success, &iv.CreatedAt, &iv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan interview: %w", err)
		}
		list = append(list, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interviews: %w", err)
	}
	return list, nil
}

// Delete removes the interview and its messages.
func (s *Service) Delete(ctx context.Context, interviewID string) error {
	if interviewID == "" {
		return errors.New("interview id required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete interview: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE interview_id = ?`, interviewID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM interviews WHERE id = ?`, interviewID)
	if err != nil {
		return fmt.Errorf("delete interview: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete interview: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// PromptWithResume enriches the candidate's prompt with extracted resume text
// and, when provided, the target vacancy text.
func PromptWithResume(userPrompt, cvText, vacText string) string {
	prompt := fmt.Sprintf("%s My resume as plain text: [resume start] %s [resume end].", userPrompt, cvText)
	if vacText != "" {
		prompt += fmt.Sprintf(" The vacancy I am applying for, as plain text: [vacancy start] %s [vacancy end]", vacText)
	}
	return prompt
}
