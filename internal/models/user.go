package models

import "time"

// User captures a registered account.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Admin        bool      `json:"admin"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserRating holds the two rating tracks plus their sum.
type UserRating struct {
	UserID           int64     `json:"user_id"`
	TestsRating      int       `json:"tests_rating"`
	InterviewsRating int       `json:"interviews_rating"`
	TotalRating      int       `json:"total_rating"`
	LastActivity     time.Time `json:"last_activity"`
}
