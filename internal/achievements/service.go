package achievements

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Achievement kinds awarded by the platform.
const (
	KindFirstInterview        = "first_interview"
	KindInterviewPerfectScore = "interview_perfect_score"
)

// Event is one unlocked achievement.
type Event struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// Service records unlocked achievements, once per user and kind.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Trigger unlocks the achievement for the user. Reports whether this call
// unlocked it, false when it was already held.
func (s *Service) Trigger(ctx context.Context, userID int64, kind string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM achievement_events WHERE user_id = ? AND kind = ?`, userID, kind,
	).Scan(&exists)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("check achievement: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO achievement_events (user_id, kind, created_at) VALUES (?, ?, ?)`,
		userID, kind, time.Now().UTC(),
	)
	if err != nil {
		// lost the race to a concurrent trigger, the unique index held
		return false, nil
	}
	return true, nil
}

// List returns the user's achievements, oldest first.
func (s *Service) List(ctx context.Context, userID int64) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, kind, created_at FROM achievement_events WHERE user_id = ? ORDER BY id ASC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	defer rows.Close()

	list := []Event{}
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan achievement: %w", err)
		}
		list = append(list, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate achievements: %w", err)
	}
	return list, nil
}
