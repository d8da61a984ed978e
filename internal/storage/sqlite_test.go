package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kalambet/canon/internal/content"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var t0 = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

func enqueue(t *testing.T, s *Store, id string, at time.Time) {
	t.Helper()
	err := s.EnqueueJob(context.Background(), Job{ID: id, Type: "world", CreatedAt: at, MaxAttempts: 3})
	if err != nil {
		t.Fatalf("EnqueueJob(%s): %v", id, err)
	}
}

func TestMigrationsApplied(t *testing.T) {
	s := openTestStore(t)
	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) != 1 || versions[0] != 1 {
		t.Errorf("versions = %v, want [1]", versions)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	s := openTestStore(t)
	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	versions, _ := s.AppliedMigrations()
	if len(versions) != 1 {
		t.Errorf("versions = %v, want one entry", versions)
	}
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("001_init.sql")
	if err != nil || v != 1 {
		t.Errorf("parseMigrationVersion = (%d, %v), want (1, nil)", v, err)
	}
	if _, err := parseMigrationVersion("init.sql"); err == nil {
		t.Error("expected error for unnumbered file")
	}
}

func TestClaimNextJob_OldestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	enqueue(t, s, "job_b", t0.Add(time.Second))
	enqueue(t, s, "job_a", t0)

	job, err := s.ClaimNextJob(ctx, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil || job.ID != "job_a" {
		t.Fatalf("claimed %+v, want job_a", job)
	}
	if job.Status != JobActive || job.Stage != "claimed" {
		t.Errorf("status = %q stage = %q", job.Status, job.Stage)
	}
	if job.ProcessedAt.IsZero() {
		t.Error("ProcessedAt not set")
	}

	stored, _ := s.GetJob(ctx, "job_a")
	if stored.Status != JobActive {
		t.Errorf("stored status = %q, want active", stored.Status)
	}
}

func TestClaimNextJob_Empty(t *testing.T) {
	s := openTestStore(t)
	job, err := s.ClaimNextJob(context.Background(), t0)
	if err != nil || job != nil {
		t.Errorf("ClaimNextJob = (%v, %v), want (nil, nil)", job, err)
	}
}

func TestClaimNextJob_RespectsRunAfter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	enqueue(t, s, "job_1", t0)
	if _, err := s.ClaimNextJob(ctx, t0); err != nil {
		t.Fatal(err)
	}
	if err := s.RetryJob(ctx, "job_1", "boom", t0.Add(2*time.Second), t0); err != nil {
		t.Fatalf("RetryJob: %v", err)
	}

	if job, _ := s.ClaimNextJob(ctx, t0.Add(time.Second)); job != nil {
		t.Fatalf("claimed %s before run_after", job.ID)
	}
	job, err := s.ClaimNextJob(ctx, t0.Add(2*time.Second))
	if err != nil || job == nil {
		t.Fatalf("ClaimNextJob after delay = (%v, %v)", job, err)
	}
	if job.Attempts != 1 || job.LastError != "boom" {
		t.Errorf("attempts = %d last_error = %q", job.Attempts, job.LastError)
	}
}

func TestClaimNextJob_SingleConsumer(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	enqueue(t, s, "job_only", t0)

	first, _ := s.ClaimNextJob(ctx, t0)
	second, _ := s.ClaimNextJob(ctx, t0)
	if first == nil {
		t.Fatal("first claim returned nil")
	}
	if second != nil {
		t.Errorf("second claim returned %s, want nil", second.ID)
	}
}

func TestCompleteAndFailJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	enqueue(t, s, "job_ok", t0)
	enqueue(t, s, "job_bad", t0)

	if err := s.CompleteJob(ctx, "job_ok", `{"entityId":"w_1"}`, t0); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if err := s.FailJob(ctx, "job_bad", "gave up", t0); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	ok, _ := s.GetJob(ctx, "job_ok")
	if ok.Status != JobCompleted || ok.Progress != 100 || ok.ResultJSON != `{"entityId":"w_1"}` {
		t.Errorf("completed job = %+v", ok)
	}
	if !ok.FinishedAt.Equal(t0) {
		t.Errorf("FinishedAt = %v, want %v", ok.FinishedAt, t0)
	}
	bad, _ := s.GetJob(ctx, "job_bad")
	if bad.Status != JobFailed || bad.LastError != "gave up" || bad.Attempts != 1 {
		t.Errorf("failed job = %+v", bad)
	}

	if err := s.CompleteJob(ctx, "job_missing", "", t0); !errors.Is(err, ErrNotFound) {
		t.Errorf("CompleteJob(missing) = %v, want ErrNotFound", err)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetJob(context.Background(), "job_nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetJob = %v, want ErrNotFound", err)
	}
}

func TestCountAndPruneJobs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		id := "job_" + string(rune('a'+i))
		enqueue(t, s, id, t0)
		if err := s.CompleteJob(ctx, id, "", t0.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatal(err)
		}
	}
	enqueue(t, s, "job_waiting", t0)

	counts, err := s.CountJobs(ctx)
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if counts[JobCompleted] != 4 || counts[JobWaiting] != 1 || counts[JobFailed] != 0 {
		t.Errorf("counts = %v", counts)
	}

	n, err := s.PruneJobs(ctx, JobCompleted, 2)
	if err != nil {
		t.Fatalf("PruneJobs: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned %d, want 2", n)
	}
	if _, err := s.GetJob(ctx, "job_a"); !errors.Is(err, ErrNotFound) {
		t.Error("oldest completed job should be pruned")
	}
	if _, err := s.GetJob(ctx, "job_d"); err != nil {
		t.Errorf("newest completed job missing: %v", err)
	}

	if n, _ := s.PruneJobs(ctx, JobCompleted, 0); n != 0 {
		t.Errorf("keep=0 pruned %d, want 0", n)
	}
}

func TestRecoverActiveJobs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	enqueue(t, s, "job_crashed", t0)
	if _, err := s.ClaimNextJob(ctx, t0); err != nil {
		t.Fatal(err)
	}

	n, err := s.RecoverActiveJobs(ctx, t0.Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("RecoverActiveJobs = (%d, %v), want (1, nil)", n, err)
	}
	job, _ := s.GetJob(ctx, "job_crashed")
	if job.Status != JobWaiting {
		t.Errorf("status = %q, want waiting", job.Status)
	}
}

func TestNextWaitingJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if job, err := s.NextWaitingJob(ctx, t0); job != nil || err != nil {
		t.Errorf("NextWaitingJob(empty) = (%v, %v)", job, err)
	}
	enqueue(t, s, "job_peek", t0)
	job, err := s.NextWaitingJob(ctx, t0)
	if err != nil || job == nil || job.ID != "job_peek" {
		t.Fatalf("NextWaitingJob = (%v, %v)", job, err)
	}
	if job.Status != JobWaiting {
		t.Errorf("peek changed status to %q", job.Status)
	}
}

func TestUniverseWithCategories(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	u, err := s.CreateUniverse(ctx, content.Universe{ID: "u_1", Name: "Aster", CreatedAt: t0})
	if err != nil {
		t.Fatalf("CreateUniverse: %v", err)
	}

	var n int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM categories WHERE universe_id = ?", u.ID).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("categories = %d, want 4", n)
	}

	got, err := s.GetUniverse(ctx, "u_1")
	if err != nil || got.Name != "Aster" || !got.CreatedAt.Equal(t0) {
		t.Errorf("GetUniverse = (%+v, %v)", got, err)
	}
	if _, err := s.GetUniverse(ctx, "u_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUniverse(missing) = %v, want ErrNotFound", err)
	}

	list, err := s.ListUniverses(ctx)
	if err != nil || len(list) != 1 {
		t.Errorf("ListUniverses = (%v, %v)", list, err)
	}
}

func TestCreateEntity_IdempotentPerJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateUniverse(ctx, content.Universe{ID: "u_1", Name: "Aster", CreatedAt: t0}); err != nil {
		t.Fatal(err)
	}

	first := content.Entity{ID: "w_1", Name: "Zanthar", Title: "Zanthar", Markdown: "# Zanthar",
		Type: "World", UniverseID: "u_1", JobID: "job_1", CreatedAt: t0}
	if _, err := s.CreateEntity(ctx, first); err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	retry := first
	retry.ID = "w_2"
	got, err := s.CreateEntity(ctx, retry)
	if err != nil {
		t.Fatalf("CreateEntity retry: %v", err)
	}
	if got.ID != "w_1" {
		t.Errorf("retry returned %s, want existing w_1", got.ID)
	}
	if _, err := s.GetEntity(ctx, "w_2"); !errors.Is(err, ErrNotFound) {
		t.Error("duplicate entity was stored")
	}

	var category string
	if err := s.DB().QueryRow("SELECT category FROM entities WHERE id = 'w_1'").Scan(&category); err != nil {
		t.Fatal(err)
	}
	if category != "Worlds" {
		t.Errorf("category = %q, want Worlds", category)
	}
}

func TestCreateEntity_UnknownUniverse(t *testing.T) {
	s := openTestStore(t)
	_, err := s.CreateEntity(context.Background(), content.Entity{
		ID: "ch_1", Name: "Ilsa", Type: "Character", UniverseID: "u_ghost", CreatedAt: t0,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("CreateEntity = %v, want ErrNotFound", err)
	}
}

func TestListEntities_FilterByType(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateUniverse(ctx, content.Universe{ID: "u_1", Name: "Aster", CreatedAt: t0}); err != nil {
		t.Fatal(err)
	}
	for _, e := range []content.Entity{
		{ID: "w_1", Name: "A", Type: "World", UniverseID: "u_1", CreatedAt: t0},
		{ID: "ch_1", Name: "B", Type: "Character", UniverseID: "u_1", CreatedAt: t0.Add(time.Second)},
		{ID: "w_2", Name: "C", Type: "World", UniverseID: "u_1", CreatedAt: t0.Add(2 * time.Second)},
	} {
		if _, err := s.CreateEntity(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	worlds, err := s.ListEntities(ctx, "u_1", content.World)
	if err != nil {
		t.Fatalf("ListEntities: %v", err)
	}
	if len(worlds) != 2 || worlds[0].ID != "w_1" || worlds[1].ID != "w_2" {
		t.Errorf("worlds = %+v", worlds)
	}
	all, _ := s.ListEntities(ctx, "u_1", "")
	if len(all) != 3 {
		t.Errorf("all = %d entities, want 3", len(all))
	}
}
