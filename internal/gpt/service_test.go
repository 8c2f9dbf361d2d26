package gpt

import (
	"context"
	"database/sql"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Lugzan151892/gradiorai-backend/internal/achievements"
	"github.com/Lugzan151892/gradiorai-backend/internal/broadcast"
	"github.com/Lugzan151892/gradiorai-backend/internal/config"
	"github.com/Lugzan151892/gradiorai-backend/internal/interview"
	"github.com/Lugzan151892/gradiorai-backend/internal/models"
	"github.com/Lugzan151892/gradiorai-backend/internal/rating"
	"github.com/Lugzan151892/gradiorai-backend/internal/storage"
)

type fakeStream struct {
	fragments []string
	pos       int
	release   chan struct{}
}

func (s *fakeStream) Recv() (string, error) {
	if s.release != nil {
		<-s.release
	}
	if s.pos >= len(s.fragments) {
		return "", io.EOF
	}
	f := s.fragments[s.pos]
	s.pos++
	return f, nil
}

func (s *fakeStream) Close() {}

type fakeGenerator struct {
	mu        sync.Mutex
	fragments []string
	release   chan struct{}
	lastReq   CompletionRequest
}

func (g *fakeGenerator) StreamCompletion(_ context.Context, req CompletionRequest) (TokenStream, error) {
	g.mu.Lock()
	g.lastReq = req
	g.mu.Unlock()
	return &fakeStream{fragments: g.fragments, release: g.release}, nil
}

func (g *fakeGenerator) request() CompletionRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastReq
}

func newTestService(t *testing.T, gen Generator) (*Service, *sql.DB, *broadcast.Hub) {
	t.Helper()

	db, err := storage.Open(config.DatabaseConfig{Driver: "sqlite3", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}

	hub := broadcast.NewHub(zap.NewNop())
	svc := NewService(
		gen,
		interview.NewService(db),
		NewSettingsStore(db),
		rating.NewService(db),
		achievements.NewService(db),
		hub,
		zap.NewNop(),
	)

	t.Cleanup(func() {
		hub.Close()
		db.Close()
	})
	return svc, db, hub
}

func createTestUser(t *testing.T, db *sql.DB) int64 {
	t.Helper()
	res, err := db.Exec(
		`INSERT INTO users (username, password_hash, admin, created_at) VALUES (?, ?, 0, ?)`,
		"candidate", "hash", time.Now().UTC(),
	)
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

func collectEvents(t *testing.T, events <-chan broadcast.StreamEvent, want int) []broadcast.StreamEvent {
	t.Helper()
	var got []broadcast.StreamEvent
	timeout := time.After(2 * time.Second)
	for len(got) < want {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed after %d events, want %d", len(got), want)
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out after %d events, want %d", len(got), want)
		}
	}
	return got
}

func TestRunTurnAppendsAssistantMessage(t *testing.T) {
	gen := &fakeGenerator{fragments: []string{"Tell me ", "about the ", "event loop.", "tail"}}
	svc, db, hub := newTestService(t, gen)
	userID := createTestUser(t, db)

	ctx := context.Background()
	ivs := interview.NewService(db)
	iv, err := ivs.Create(ctx, userID, "Frontend interview, please")
	if err != nil {
		t.Fatalf("create interview: %v", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, err := hub.Subscribe(subCtx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := svc.RunTurn(ctx, iv, false); err != nil {
		t.Fatalf("run turn: %v", err)
	}

	// Lookahead holds one fragment back, so three fragments release two
	// narration chunks and the fourth is dropped at stream end.
	got := collectEvents(t, events, 3)
	if got[0].Type != broadcast.EventChunk || got[0].Text != "Tell me about the " {
		t.Fatalf("first chunk = %+v", got[0])
	}
	if got[1].Type != broadcast.EventChunk || got[1].Text != "event loop." {
		t.Fatalf("second chunk = %+v", got[1])
	}
	if got[2].Type != broadcast.EventSaved {
		t.Fatalf("expected saved event, got %+v", got[2])
	}
	if got[2].InterviewID != iv.ID {
		t.Fatalf("saved event interview id = %q, want %q", got[2].InterviewID, iv.ID)
	}

	updated, err := ivs.Get(ctx, iv.ID)
	if err != nil {
		t.Fatalf("get interview: %v", err)
	}
	if len(updated.Messages) != 1 {
		t.Fatalf("message count = %d, want 1", len(updated.Messages))
	}
	msg := updated.Messages[0]
	if msg.IsHuman {
		t.Fatal("saved message should be from the assistant")
	}
	if msg.Text != "Tell me about the event loop." {
		t.Fatalf("saved text = %q", msg.Text)
	}
	if updated.Finished {
		t.Fatal("interview must stay active after a narration turn")
	}
}

func TestRunTurnFinalizesOnVerdict(t *testing.T) {
	gen := &fakeGenerator{fragments: []string{
		"[R]",
		`{"status":"done","score":"10/10",`,
		`"summary":"Strong candidate.","success":true}`,
	}}
	svc, db, hub := newTestService(t, gen)
	userID := createTestUser(t, db)

	ctx := context.Background()
	ivs := interview.NewService(db)
	iv, err := ivs.Create(ctx, userID, "Backend interview")
	if err != nil {
		t.Fatalf("create interview: %v", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, err := hub.Subscribe(subCtx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := svc.RunTurn(ctx, iv, false); err != nil {
		t.Fatalf("run turn: %v", err)
	}

	got := collectEvents(t, events, 1)
	if got[0].Type != broadcast.EventResult {
		t.Fatalf("expected result event, got %+v", got[0])
	}
	if got[0].Interview == nil || !got[0].Interview.Finished {
		t.Fatalf("result event must carry the finalized interview: %+v", got[0].Interview)
	}

	final, err := ivs.Get(ctx, iv.ID)
	if err != nil {
		t.Fatalf("get interview: %v", err)
	}
	if !final.Finished || final.Recommendations != "Strong candidate." ||
		final.Score != "10/10" || !final.Success {
		t.Fatalf("finalized interview = %+v", final)
	}
	if len(final.Messages) != 0 {
		t.Fatalf("verdict must not be saved as a message, got %d", len(final.Messages))
	}

	var interviewsRating int
	if err := db.QueryRow(
		`SELECT interviews_rating FROM user_ratings WHERE user_id = ?`, userID,
	).Scan(&interviewsRating); err != nil {
		t.Fatalf("query rating: %v", err)
	}
	if interviewsRating <= rating.MinRating {
		t.Fatalf("interviews rating = %d, want above %d", interviewsRating, rating.MinRating)
	}

	var achCount int
	if err := db.QueryRow(
		`SELECT COUNT(*) FROM achievement_events WHERE user_id = ?`, userID,
	).Scan(&achCount); err != nil {
		t.Fatalf("query achievements: %v", err)
	}
	if achCount != 2 {
		t.Fatalf("achievement count = %d, want 2 (first interview + perfect score)", achCount)
	}
}

func TestRunTurnRejectsMalformedVerdict(t *testing.T) {
	gen := &fakeGenerator{fragments: []string{"[R]", "{not json"}}
	svc, db, _ := newTestService(t, gen)
	userID := createTestUser(t, db)

	ctx := context.Background()
	ivs := interview.NewService(db)
	iv, err := ivs.Create(ctx, userID, "prompt")
	if err != nil {
		t.Fatalf("create interview: %v", err)
	}

	if err := svc.RunTurn(ctx, iv, false); err == nil {
		t.Fatal("expected parse error")
	}

	after, err := ivs.Get(ctx, iv.ID)
	if err != nil {
		t.Fatalf("get interview: %v", err)
	}
	if after.Finished {
		t.Fatal("interview must not be finalized on a malformed verdict")
	}
}

func TestStartTurnSingleFlight(t *testing.T) {
	release := make(chan struct{})
	gen := &fakeGenerator{fragments: []string{"hello", "there"}, release: release}
	svc, db, _ := newTestService(t, gen)
	userID := createTestUser(t, db)

	ctx := context.Background()
	ivs := interview.NewService(db)
	iv, err := ivs.Create(ctx, userID, "prompt")
	if err != nil {
		t.Fatalf("create interview: %v", err)
	}

	if err := svc.StartTurn(iv, false); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if err := svc.StartTurn(iv, false); err != ErrTurnInProgress {
		t.Fatalf("second turn err = %v, want ErrTurnInProgress", err)
	}

	close(release)

	// The guard frees after the first turn drains; a later turn must run.
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := svc.RunTurn(ctx, iv, false)
		if err == nil {
			break
		}
		if err != ErrTurnInProgress || time.Now().After(deadline) {
			t.Fatalf("turn after release: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartTurnRejectsFinishedInterview(t *testing.T) {
	gen := &fakeGenerator{fragments: []string{"x"}}
	svc, db, _ := newTestService(t, gen)
	userID := createTestUser(t, db)

	ctx := context.Background()
	ivs := interview.NewService(db)
	iv, err := ivs.Create(ctx, userID, "prompt")
	if err != nil {
		t.Fatalf("create interview: %v", err)
	}
	finished, err := ivs.Finalize(ctx, iv.ID, "done", "5/10", false)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if err := svc.StartTurn(finished, false); err != interview.ErrFinished {
		t.Fatalf("err = %v, want ErrFinished", err)
	}
}

func TestBuildTurnRequestFirstTurnUsesUserPrompt(t *testing.T) {
	st, _ := DefaultSettings(KindInterview)
	iv := &models.Interview{ID: "iv1", UserPrompt: "Interview me for a Go backend role"}

	req := buildTurnRequest(iv, st, false)
	if len(req.Messages) != 2 {
		t.Fatalf("message count = %d", len(req.Messages))
	}
	if req.Messages[1].Role != RoleUser || req.Messages[1].Content != iv.UserPrompt {
		t.Fatalf("user message = %+v", req.Messages[1])
	}
	if strings.Contains(req.Messages[0].Content, "$CHAT_HISTORY") {
		t.Fatal("history keyword must be substituted")
	}
}

func TestBuildTurnRequestNumbersTranscript(t *testing.T) {
	st, _ := DefaultSettings(KindInterview)
	iv := &models.Interview{
		ID:         "iv1",
		UserPrompt: "prompt",
		Messages: []models.Message{
			{IsHuman: false, Text: "What is a goroutine?"},
			{IsHuman: true, Text: "A lightweight thread."},
			{IsHuman: false, Text: "How are they scheduled?"},
			{IsHuman: true, Text: "By the runtime scheduler."},
		},
	}

	req := buildTurnRequest(iv, st, false)
	system := req.Messages[0].Content
	if !strings.Contains(system, "1. Interviewer: What is a goroutine?") {
		t.Fatalf("transcript missing first entry:\n%s", system)
	}
	if !strings.Contains(system, "2. Candidate: A lightweight thread.") {
		t.Fatalf("transcript missing candidate entry:\n%s", system)
	}
	if strings.Contains(system, "By the runtime scheduler.") {
		t.Fatal("the message being answered must not appear in the transcript")
	}
	if req.Messages[1].Content != "By the runtime scheduler." {
		t.Fatalf("user message = %q", req.Messages[1].Content)
	}
}

func TestParseScore(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"7/10", 7, false},
		{"10/10", 10, false},
		{" 3 /10", 3, false},
		{"9", 9, false},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseScore(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseScore(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseScore(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseScore(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
