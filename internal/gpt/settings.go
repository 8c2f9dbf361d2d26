package gpt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
)

// SettingsKind selects which prompt/model profile a generation uses.
type SettingsKind string

const (
	KindTest         SettingsKind = "test"
	KindInterview    SettingsKind = "interview"
	KindResumeCheck  SettingsKind = "resume_check"
	KindResumeCreate SettingsKind = "resume_create"
	KindAnalyze      SettingsKind = "gpt_analyze"
)

// ErrUnknownKind is returned for a kind outside the closed set.
var ErrUnknownKind = errors.New("unknown settings kind")

// Settings is one generation profile: which model to use for regular and
// admin callers, how many items to produce, and the prompt templates.
// Templates may contain $UPPER_CASE keywords filled in per request.
type Settings struct {
	Kind          SettingsKind `json:"kind"`
	UserModel     string       `json:"user_model"`
	AdminModel    string       `json:"admin_model"`
	UserAmount    int          `json:"user_amount"`
	AdminAmount   int          `json:"admin_amount"`
	Temperature   float32      `json:"temperature"`
	SystemMessage string       `json:"system_message"`
	UserMessage   string       `json:"user_message"`
}

// Model picks the model for the caller's privilege level.
func (s Settings) Model(admin bool) string {
	if admin {
		return s.AdminModel
	}
	return s.UserModel
}

// Amount picks the generation count for the caller's privilege level.
func (s Settings) Amount(admin bool) int {
	if admin {
		return s.AdminAmount
	}
	return s.UserAmount
}

var promptKeywordRe = regexp.MustCompile(`\$[A-Z_]+`)

// ReplacePromptKeywords substitutes $KEYWORD placeholders in a template.
// Unknown keywords are left untouched so a missing value is visible in the
// rendered prompt instead of silently disappearing.
func ReplacePromptKeywords(template string, data map[string]string) string {
	return promptKeywordRe.ReplaceAllStringFunc(template, func(match string) string {
		if v, ok := data[match]; ok {
			return v
		}
		return match
	})
}

// SettingsStore resolves generation profiles, preferring rows persisted by an
// admin over the compiled-in defaults.
type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// Get returns the profile for the kind. A missing row falls back to the
// default profile for that kind.
func (s *SettingsStore) Get(ctx context.Context, kind SettingsKind) (Settings, error) {
	def, ok := defaultSettings[kind]
	if !ok {
		return Settings{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT user_model, admin_model, user_amount, admin_amount, temperature, system_message, user_message
		 FROM gpt_settings WHERE kind = ?`, string(kind),
	)
	var st Settings
	st.Kind = kind
	err := row.Scan(&st.UserModel, &st.AdminModel, &st.UserAmount, &st.AdminAmount,
		&st.Temperature, &st.SystemMessage, &st.UserMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("load settings %q: %w", kind, err)
	}
	return st, nil
}

// Save upserts the profile so admins can tune prompts without a redeploy.
func (s *SettingsStore) Save(ctx context.Context, st Settings) error {
	if _, ok := defaultSettings[st.Kind]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, st.Kind)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save settings %q: %w", st.Kind, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM gpt_settings WHERE kind = ?`, string(st.Kind)); err != nil {
		return fmt.Errorf("save settings %q: %w", st.Kind, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO gpt_settings (kind, user_model, admin_model, user_amount, admin_amount, temperature, system_message, user_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(st.Kind), st.UserModel, st.AdminModel, st.UserAmount, st.AdminAmount,
		st.Temperature, st.SystemMessage, st.UserMessage,
	)
	if err != nil {
		return fmt.Errorf("save settings %q: %w", st.Kind, err)
	}
	return tx.Commit()
}

// Template keywords:
//   $QUESTIONS_AMOUNT  number of questions to generate
//   $SKILL_LEVEL       junior/middle/senior
//   $QUESTION_TECHS    comma-separated technologies
//   $PASSED_QUESTIONS  questions the user already answered
//   $CHAT_HISTORY      numbered transcript of the conversation so far
var defaultSettings = map[SettingsKind]Settings{
	KindTest: {
		Kind:        KindTest,
		UserModel:   "gpt-4o-mini",
		AdminModel:  "gpt-4o-mini",
		UserAmount:  10,
		AdminAmount: 20,
		Temperature: 1,
		SystemMessage: "You generate technical interview test questions. Act as a senior " +
			"engineer with long experience interviewing candidates in the requested area. " +
			"Questions must match the given direction, technologies and skill level; a junior " +
			"gets language and syntax basics, a middle or senior gets questions about how " +
			"their stack works underneath. Answer options must be realistic and not obvious. " +
			"The user already passed these questions, do not repeat them: $PASSED_QUESTIONS. " +
			"Every answer id must be an integer greater than 0.",
		UserMessage: "Generate $QUESTIONS_AMOUNT interview questions for a $SKILL_LEVEL position " +
			"with 4 answer options each, covering these technologies: $QUESTION_TECHS. " +
			"Exactly one option is correct.",
	},
	KindInterview: {
		Kind:        KindInterview,
		UserModel:   "gpt-4.1",
		AdminModel:  "gpt-4.1",
		Temperature: 1,
		SystemMessage: "You are a virtual interviewer on an interview preparation platform, " +
			"simulating a realistic technical job interview. Answer in the language of the " +
			"user's messages and read the chat history before answering. Lead the conversation: " +
			"ask one question at a time, at most two when they depend on each other. Do not ask " +
			"the candidate what they want to discuss, do not thank them after answers, and do " +
			"not repeat their answers back. Prefer theory and reasoning over questions that " +
			"need code as the answer. When an answer is weak, first give a hint; if the " +
			"candidate still struggles, explain the correct answer and ask whether you can move " +
			"on. End the interview yourself once the candidate's level is clear. To end it, " +
			"output the marker [R] immediately followed by a single JSON object with fields " +
			"status, score, summary and success, where score is a string like \"7/10\", summary " +
			"contains your structured review with strengths, weaknesses and a hiring " +
			"recommendation, and success is whether you would hire the candidate. Output " +
			"nothing after the JSON. Conversation so far:\n$CHAT_HISTORY",
	},
	KindResumeCheck: {
		Kind:        KindResumeCheck,
		UserModel:   "gpt-4.1",
		AdminModel:  "gpt-4.1",
		Temperature: 1,
		SystemMessage: "You are an experienced technical recruiter reviewing the user's resume " +
			"as if for a real job application. Answer in the language of the user's message, in " +
			"Markdown. Evaluate structure, formatting and clarity, analyze each section, point " +
			"out strengths, weaknesses and red flags with concrete fixes, and call out missing " +
			"sections. Finish with a structured summary: strengths, weaknesses with rewrite " +
			"suggestions, and whether this resume would pass an initial recruiter screen. Be " +
			"strict but constructive.",
	},
	KindResumeCreate: {
		Kind:        KindResumeCreate,
		UserModel:   "gpt-4.1",
		AdminModel:  "gpt-4.1",
		Temperature: 1,
		SystemMessage: "You are a professional resume writer. Build a complete, well-structured " +
			"resume in Markdown from the details the user provides, in the language of their " +
			"message. Start with name and contact information, then include summary, skills, " +
			"work experience, education, projects, certifications and languages when data is " +
			"available, highlighting measurable achievements. Use placeholders where key data " +
			"is missing. If the user asks for anything unrelated to creating or editing a " +
			"resume, refuse and say your function is limited to resumes.",
	},
	KindAnalyze: {
		Kind:        KindAnalyze,
		UserModel:   "gpt-4.1",
		AdminModel:  "gpt-4.1",
		Temperature: 1,
		SystemMessage: "You are a strategic product analyst for an interview preparation " +
			"platform. Analyze the provided product data and respond with a prioritized task " +
			"list in Markdown, in the language of the user's message. Only reference real " +
			"services and features. Be concise and professional.",
	},
}

// DefaultSettings returns a copy of the built-in profile for the kind.
func DefaultSettings(kind SettingsKind) (Settings, bool) {
	s, ok := defaultSettings[kind]
	return s, ok
}
