package clone

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/replica/dbopen"
	"github.com/hazyhaar/replica/llm"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return NewStore(db)
}

func TestStore_CreateGetRoundTrip(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	created, err := st.Create(ctx, Request{URL: "https://example.com", Quality: "high"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(created.ID, "sess_") {
		t.Fatalf("id = %q, want sess_ prefix", created.ID)
	}
	if created.Status != StatusPending {
		t.Fatalf("status = %s, want pending", created.Status)
	}

	got, err := st.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Request.URL != "https://example.com" || got.Request.Quality != "high" {
		t.Fatalf("request = %+v", got.Request)
	}
	if len(got.Progress) != 1 || got.Progress[0].Name != "Queued" {
		t.Fatalf("progress = %+v", got.Progress)
	}
	if got.Result != nil {
		t.Fatal("fresh session must have no result")
	}
}

func TestStore_GetUnknown(t *testing.T) {
	st := testStore(t)
	if _, err := st.Get(context.Background(), "sess_missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestStore_UpdatePersistsResult(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	s, err := st.Create(ctx, Request{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	s.Status = StatusAnalyzing
	s.Progress = append(s.Progress, ProgressStep{
		Name: "Analyzing", Status: StatusAnalyzing, Percentage: 10,
		StartedAt: time.Now().UTC(),
	})
	s.UpdatedAt = time.Now().UTC()
	if err := st.Update(ctx, s); err != nil {
		t.Fatalf("Update: %v", err)
	}

	s.Complete(&llm.Artifact{
		HTML:       "<!DOCTYPE html><html></html>",
		Similarity: 82.5,
		Assets:     []string{"assets/logo-abc.png"},
	}, "done")
	if err := st.Update(ctx, s); err != nil {
		t.Fatalf("Update completed: %v", err)
	}

	got, err := st.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("status = %s", got.Status)
	}
	if got.Result == nil || got.Result.Similarity != 82.5 {
		t.Fatalf("result = %+v", got.Result)
	}
	if len(got.Result.Assets) != 1 || got.Result.Assets[0] != "assets/logo-abc.png" {
		t.Fatalf("assets = %v", got.Result.Assets)
	}
	if len(got.Progress) != 3 {
		t.Fatalf("progress steps = %d, want 3 (history appends only)", len(got.Progress))
	}
}

func TestStore_UpdateUnknown(t *testing.T) {
	st := testStore(t)
	s := &Session{ID: "sess_ghost", Status: StatusPending, UpdatedAt: time.Now().UTC()}
	if err := st.Update(context.Background(), s); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestStore_AcquireRunExclusive(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	s, err := st.Create(ctx, Request{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	token, err := st.AcquireRun(ctx, s.ID)
	if err != nil {
		t.Fatalf("AcquireRun: %v", err)
	}
	if !strings.HasPrefix(token, "run_") {
		t.Fatalf("token = %q", token)
	}

	if _, err := st.AcquireRun(ctx, s.ID); !errors.Is(err, ErrRunInFlight) {
		t.Fatalf("second acquire err = %v, want ErrRunInFlight", err)
	}

	if err := st.ReleaseRun(ctx, s.ID, token); err != nil {
		t.Fatalf("ReleaseRun: %v", err)
	}

	// Released sessions can be claimed again.
	if _, err := st.AcquireRun(ctx, s.ID); err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
}

func TestStore_ReleaseRunTokenMismatch(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	s, err := st.Create(ctx, Request{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := st.AcquireRun(ctx, s.ID); err != nil {
		t.Fatalf("AcquireRun: %v", err)
	}

	err = st.ReleaseRun(ctx, s.ID, "run_forged")
	if KindOf(err) != KindInternal {
		t.Fatalf("err = %v, want internal kind", err)
	}
}

func TestStore_DeleteIdle(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	s, err := st.Create(ctx, Request{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	deferred, err := st.Delete(ctx, s.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if deferred {
		t.Fatal("idle session delete must be immediate")
	}
	if _, err := st.Get(ctx, s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get after delete: %v", err)
	}
}

func TestStore_DeleteDeferredWhileRunning(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	s, err := st.Create(ctx, Request{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	token, err := st.AcquireRun(ctx, s.ID)
	if err != nil {
		t.Fatalf("AcquireRun: %v", err)
	}

	deferred, err := st.Delete(ctx, s.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !deferred {
		t.Fatal("delete under a held run must be deferred")
	}

	// Marked sessions are invisible even before the row is removed.
	if _, err := st.Get(ctx, s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get on marked session: %v", err)
	}
	if _, err := st.Delete(ctx, s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("double delete: %v", err)
	}

	// The owning run removes the row on release.
	if err := st.ReleaseRun(ctx, s.ID, token); err != nil {
		t.Fatalf("ReleaseRun: %v", err)
	}
	if _, err := st.AcquireRun(ctx, s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("acquire on removed row: %v", err)
	}
}

func TestStore_List(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	var last *Session
	for i := 0; i < 3; i++ {
		s, err := st.Create(ctx, Request{URL: "https://example.com"})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		last = s
		// created_at ordering needs distinct timestamps
		time.Sleep(2 * time.Millisecond)
	}
	last.Fail("browser crashed")
	if err := st.Update(ctx, last); err != nil {
		t.Fatalf("Update: %v", err)
	}

	all, total, err := st.List(ctx, "", 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 3 || len(all) != 3 {
		t.Fatalf("total = %d, rows = %d", total, len(all))
	}
	if all[0].ID != last.ID {
		t.Fatal("list must be newest first")
	}

	failed, total, err := st.List(ctx, StatusFailed, 0, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 1 || len(failed) != 1 || failed[0].ErrorMessage != "browser crashed" {
		t.Fatalf("failed filter: total=%d rows=%+v", total, failed)
	}

	page, total, err := st.List(ctx, "", 2, 2)
	if err != nil {
		t.Fatalf("List page: %v", err)
	}
	if total != 3 || len(page) != 1 {
		t.Fatalf("pagination: total=%d rows=%d", total, len(page))
	}
}
