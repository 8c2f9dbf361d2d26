package interview

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Lugzan151892/gradiorai-backend/internal/config"
	"github.com/Lugzan151892/gradiorai-backend/internal/storage"
)

func newTestDB(t *testing.T) (*sql.DB, int64) {
	t.Helper()
	db, err := storage.Open(config.DatabaseConfig{Driver: "sqlite3", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	res, err := db.Exec(
		`INSERT INTO users (username, password_hash, admin, created_at) VALUES (?, ?, 0, ?)`,
		"candidate", "hash", time.Now().UTC(),
	)
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	userID, _ := res.LastInsertId()
	return db, userID
}

func TestCreateAndGet(t *testing.T) {
	db, userID := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	iv, err := svc.Create(ctx, userID, "Interview me for a Go role")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if iv.ID == "" {
		t.Fatal("expected generated id")
	}

	got, err := svc.Get(ctx, iv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != userID || got.UserPrompt != "Interview me for a Go role" {
		t.Fatalf("got %+v", got)
	}
	if got.Finished || len(got.Messages) != 0 {
		t.Fatalf("fresh interview should be active and empty: %+v", got)
	}
}

func TestGetNotFound(t *testing.T) {
	db, _ := newTestDB(t)
	svc := NewService(db)

	if _, err := svc.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAppendMessageOrdering(t *testing.T) {
	db, userID := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	iv, err := svc.Create(ctx, userID, "prompt")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.AppendMessage(ctx, iv.ID, "first question", false); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := svc.AppendMessage(ctx, iv.ID, "my answer", true); err != nil {
		t.Fatalf("append: %v", err)
	}
	updated, err := svc.AppendMessage(ctx, iv.ID, "second question", false)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if len(updated.Messages) != 3 {
		t.Fatalf("message count = %d, want 3", len(updated.Messages))
	}
	texts := []string{}
	for _, m := range updated.Messages {
		texts = append(texts, m.Text)
	}
	if strings.Join(texts, "|") != "first question|my answer|second question" {
		t.Fatalf("order = %v", texts)
	}
	if updated.Messages[1].IsHuman != true || updated.Messages[0].IsHuman != false {
		t.Fatalf("speaker flags wrong: %+v", updated.Messages)
	}
}

func TestAppendMessageRejectsFinished(t *testing.T) {
	db, userID := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	iv, err := svc.Create(ctx, userID, "prompt")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Finalize(ctx, iv.ID, "summary", "6/10", true); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if _, err := svc.AppendMessage(ctx, iv.ID, "too late", true); !errors.Is(err, ErrFinished) {
		t.Fatalf("err = %v, want ErrFinished", err)
	}
}

func TestFinalizeExactlyOnce(t *testing.T) {
	db, userID := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	iv, err := svc.Create(ctx, userID, "prompt")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	final, err := svc.Finalize(ctx, iv.ID, "Solid answers.", "8/10", true)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !final.Finished || final.Recommendations != "Solid answers." ||
		final.Score != "8/10" || !final.Success {
		t.Fatalf("finalized = %+v", final)
	}

	if _, err := svc.Finalize(ctx, iv.ID, "again", "1/10", false); !errors.Is(err, ErrFinished) {
		t.Fatalf("second finalize err = %v, want ErrFinished", err)
	}

	// First verdict stays.
	got, err := svc.Get(ctx, iv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Score != "8/10" || got.Recommendations != "Solid answers." {
		t.Fatalf("verdict overwritten: %+v", got)
	}
}

func TestFinalizeNotFound(t *testing.T) {
	db, _ := newTestDB(t)
	svc := NewService(db)

	if _, err := svc.Finalize(context.Background(), "missing", "s", "1/10", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListByUser(t *testing.T) {
	db, userID := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	if _, err := svc.Create(ctx, userID, "first"); err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := svc.Create(ctx, userID, "second"); err != nil {
		t.Fatalf("create: %v", err)
	}

	list, err := svc.ListByUser(ctx, userID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("count = %d, want 2", len(list))
	}
	if list[0].UserPrompt != "second" {
		t.Fatalf("expected newest first, got %q", list[0].UserPrompt)
	}

	other, err := svc.ListByUser(ctx, userID+1)
	if err != nil {
		t.Fatalf("list other: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("other user count = %d, want 0", len(other))
	}
}

func TestDelete(t *testing.T) {
	db, userID := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	iv, err := svc.Create(ctx, userID, "prompt")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.AppendMessage(ctx, iv.ID, "hello", true); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := svc.Delete(ctx, iv.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, iv.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE interview_id = ?`, iv.ID).Scan(&count); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 0 {
		t.Fatalf("orphan messages = %d", count)
	}

	if err := svc.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete missing err = %v, want ErrNotFound", err)
	}
}

func TestPromptWithResume(t *testing.T) {
	got := PromptWithResume("Interview me.", "CV TEXT", "")
	if !strings.Contains(got, "[resume start] CV TEXT [resume end]") {
		t.Fatalf("got %q", got)
	}
	if strings.Contains(got, "vacancy") {
		t.Fatalf("vacancy section must be absent: %q", got)
	}

	withVac := PromptWithResume("Interview me.", "CV", "VAC")
	if !strings.Contains(withVac, "[vacancy start] VAC [vacancy end]") {
		t.Fatalf("got %q", withVac)
	}
}
