package models

import "time"

// Interview is one simulated technical interview owned by a user. The
// user_prompt is fixed at creation; messages are append-only while the
// interview is active. Recommendations, score and success are written exactly
// once, when the interview finishes.
type Interview struct {
	ID              string    `json:"id"`
	UserID          int64     `json:"user_id"`
	UserPrompt      string    `json:"user_prompt"`
	Messages        []Message `json:"messages"`
	Finished        bool      `json:"finished"`
	Recommendations string    `json:"recommendations"`
	Score           string    `json:"score"`
	Success         bool      `json:"success"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Message is a single turn of an interview transcript. Ordering is by
// created_at ascending; that order is what gets fed back into prompts.
type Message struct {
	ID          int64     `json:"id"`
	InterviewID string    `json:"interview_id"`
	IsHuman     bool      `json:"is_human"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
}

// Verdict is the structured payload the generator embeds behind the result
// sentinel at the end of a finished interview.
type Verdict struct {
	Status  string `json:"status"`
	Score   string `json:"score"`
	Summary string `json:"summary"`
	Success bool   `json:"success"`
}
