package rating

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Lugzan151892/gradiorai-backend/internal/models"
)

// Rating bounds. Growth slows linearly towards MaxRating and almost stops
// above it.
const (
	MinRating = 1000
	MaxRating = 3000

	maxOverflow = 1000
)

// Sources recorded in the rating log.
const (
	SourceTest      = "test"
	SourceInterview = "interview"
)

// Service maintains per-user ratings for tests and interviews.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// damping factor approaching the ceiling
func gainK(current int) float64 {
	return math.Max(0, 1-float64(current-MinRating)/float64(MaxRating-MinRating))
}

// damping factor above the ceiling, 0.1 shrinking to 0.01
func overflowK(current int) float64 {
	if current <= MaxRating {
		return 1
	}
	overflowRatio := math.Min(float64(current-MaxRating)/maxOverflow, 1)
	return math.Max(0.01, 0.1*(1-overflowRatio))
}

func damped(current int, gain float64) int {
	if current >= MaxRating {
		return int(math.Round(gain * overflowK(current)))
	}
	return int(math.Round(gain * gainK(current)))
}

// RecordInterviewOutcome applies the verdict of a finished interview to the
// user's interview rating. Score is the 0..10 verdict value.
func (s *Service) RecordInterviewOutcome(ctx context.Context, userID int64, score int, success bool) error {
	rec, err := s.ensure(ctx, userID)
	if err != nil {
		return err
	}

	gain := float64(score) / 10 * 100
	if success {
		gain += 50
	} else {
		gain -= 50
	}
	delta := damped(rec.InterviewsRating, gain)

	comment := fmt.Sprintf("Interview: score=%d, success=%t", score, success)
	return s.apply(ctx, rec, SourceInterview, delta, comment)
}

// AddTestResult applies a completed test to the user's test rating.
func (s *Service) AddTestResult(ctx context.Context, userID int64, level, questions, correct int) error {
	if questions <= 0 {
		return errors.New("questions must be positive")
	}
	rec, err := s.ensure(ctx, userID)
	if err != nil {
		return err
	}

	percent := float64(correct) / float64(questions)
	base := percent * 100 * float64(level) * (float64(questions) / 10)
	delta := damped(rec.TestsRating, base)

	comment := fmt.Sprintf("Test: level=%d, q=%d, correct=%d", level, questions, correct)
	return s.apply(ctx, rec, SourceTest, delta, comment)
}

// Get returns the user's rating record, creating the default one if missing.
func (s *Service) Get(ctx context.Context, userID int64) (*models.UserRating, error) {
	return s.ensure(ctx, userID)
}

// Top returns the highest-rated users, at most limit entries.
func (s *Service) Top(ctx context.Context, limit int) ([]models.UserRating, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, tests_rating, interviews_rating, total_rating, last_activity
		 FROM user_ratings ORDER BY total_rating DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query top ratings: %w", err)
	}
	defer rows.Close()

	list := []models.UserRating{}
	for rows.Next() {
		var r models.UserRating
		if err := rows.Scan(&r.UserID, &r.TestsRating, &r.InterviewsRating, &r.TotalRating, &r.LastActivity); err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		list = append(list, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ratings: %w", err)
	}
	return list, nil
}

func (s *Service) ensure(ctx context.Context, userID int64) (*models.UserRating, error) {
	var r models.UserRating
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, tests_rating, interviews_rating, total_rating, last_activity
		 FROM user_ratings WHERE user_id = ?`, userID,
	).Scan(&r.UserID, &r.TestsRating, &r.InterviewsRating, &r.TotalRating, &r.LastActivity)
	if err == nil {
		return &r, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query rating: %w", err)
	}

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO user_ratings (user_id, tests_rating, interviews_rating, total_rating, last_activity)
		 VALUES (?, ?, ?, ?, ?)`,
		userID, MinRating, MinRating, 2*MinRating, now,
	); err != nil {
		return nil, fmt.Errorf("init rating: %w", err)
	}
	return &models.UserRating{
		UserID:           userID,
		TestsRating:      MinRating,
		InterviewsRating: MinRating,
		TotalRating:      2 * MinRating,
		LastActivity:     now,
	}, nil
}

func (s *Service) apply(ctx context.Context, rec *models.UserRating, source string, delta int, comment string) error {
	var oldValue, newValue int
	switch source {
	case SourceTest:
		oldValue = rec.TestsRating
	case SourceInterview:
		oldValue = rec.InterviewsRating
	default:
		return fmt.Errorf("unknown rating source %q", source)
	}
	newValue = oldValue + delta
	if newValue < MinRating {
		newValue = MinRating
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply rating: %w", err)
	}
	defer tx.Rollback()

	var column string
	var total int
	if source == SourceTest {
		column = "tests_rating"
		total = newValue + rec.InterviewsRating
	} else {
		column = "interviews_rating"
		total = newValue + rec.TestsRating
	}
	query := fmt.Sprintf(
		`UPDATE user_ratings SET %s = ?, total_rating = ?, last_activity = ? WHERE user_id = ?`, column)
	if _, err := tx.ExecContext(ctx, query, newValue, total, now, rec.UserID); err != nil {
		return fmt.Errorf("update rating: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_rating_logs (user_id, source, delta, old_value, new_value, comment, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.UserID, source, delta, oldValue, newValue, comment, now,
	); err != nil {
		return fmt.Errorf("log rating change: %w", err)
	}
	return tx.Commit()
}
