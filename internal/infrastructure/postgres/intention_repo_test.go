package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/cauldronio/poolsched/internal/domain"
	"github.com/cauldronio/poolsched/internal/infrastructure/postgres"
)

func TestSelectable_DependencyGating(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	intentions := postgres.NewIntentionRepository(pool, testLogger())
	jobs := postgres.NewJobRepository(pool, testLogger())

	user := seedUser(t, pool)
	worker := seedWorker(t, pool)
	repoID := seedGitRepo(t, pool, "https://example.com/r.git")

	raw := seedIntention(t, pool, domain.KindGitRaw, user, repoID)
	enrich := seedIntention(t, pool, domain.KindGitEnrich, user, repoID)
	if err := intentions.AddPrevious(ctx, enrich.ID, raw.ID); err != nil {
		t.Fatalf("add previous: %v", err)
	}

	got, err := intentions.Selectable(ctx, user, domain.KindGitEnrich, 10)
	if err != nil {
		t.Fatalf("selectable enrich: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("enrich with pending prerequisite is selectable: %v", got)
	}

	got, err = intentions.Selectable(ctx, user, domain.KindGitRaw, 10)
	if err != nil {
		t.Fatalf("selectable raw: %v", err)
	}
	if len(got) != 1 || got[0].ID != raw.ID {
		t.Fatalf("selectable raw = %v, want the raw intention", got)
	}

	// Archiving the raw job removes the prerequisite and unblocks enrich.
	job, err := intentions.CreateJob(ctx, raw.ID, worker)
	if err != nil || job == nil {
		t.Fatalf("create job: %v, %v", job, err)
	}
	if _, err := jobs.Archive(ctx, job.ID, domain.ArchOK); err != nil {
		t.Fatalf("archive job: %v", err)
	}

	got, err = intentions.Selectable(ctx, user, domain.KindGitEnrich, 10)
	if err != nil {
		t.Fatalf("selectable enrich after archive: %v", err)
	}
	if len(got) != 1 || got[0].ID != enrich.ID {
		t.Fatalf("selectable enrich after archive = %v, want the enrich intention", got)
	}
}

func TestSelectable_TokenGate(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	intentions := postgres.NewIntentionRepository(pool, testLogger())
	tokens := postgres.NewTokenRepository(pool)

	user := seedUser(t, pool)
	repoID := seedGitHubRepo(t, pool, "o", "r")
	in := seedIntention(t, pool, domain.KindGitHubRaw, user, repoID)

	got, err := intentions.Selectable(ctx, user, domain.KindGitHubRaw, 10)
	if err != nil {
		t.Fatalf("selectable without token: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("token-backed intention selectable without any token: %v", got)
	}

	tokenID := seedToken(t, pool, user, domain.SourceGitHub, past())

	got, err = intentions.Selectable(ctx, user, domain.KindGitHubRaw, 10)
	if err != nil {
		t.Fatalf("selectable with ready token: %v", err)
	}
	if len(got) != 1 || got[0].ID != in.ID {
		t.Fatalf("selectable with ready token = %v, want the intention", got)
	}

	// A cooling-down token does not admit.
	if err := tokens.Delay(ctx, tokenID, future()); err != nil {
		t.Fatalf("delay token: %v", err)
	}
	got, err = intentions.Selectable(ctx, user, domain.KindGitHubRaw, 10)
	if err != nil {
		t.Fatalf("selectable with delayed token: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("intention selectable while token cools down: %v", got)
	}
}

func TestCreateJob_BindsIntentionAndAttachesTokens(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	intentions := postgres.NewIntentionRepository(pool, testLogger())

	user := seedUser(t, pool)
	worker := seedWorker(t, pool)
	repoID := seedGitHubRepo(t, pool, "o", "r")
	in := seedIntention(t, pool, domain.KindGitHubRaw, user, repoID)
	seedToken(t, pool, user, domain.SourceGitHub, past())
	seedToken(t, pool, user, domain.SourceGitHub, future())

	job, err := intentions.CreateJob(ctx, in.ID, worker)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if job == nil {
		t.Fatal("create job returned nil for an admissible intention")
	}
	if job.WorkerID == nil || *job.WorkerID != worker {
		t.Errorf("job worker = %v, want %s", job.WorkerID, worker)
	}

	var boundJob *string
	if err := pool.QueryRow(ctx, `SELECT job_id FROM intentions WHERE id = $1`, in.ID).Scan(&boundJob); err != nil {
		t.Fatalf("read intention: %v", err)
	}
	if boundJob == nil || *boundJob != job.ID {
		t.Errorf("intention bound to %v, want %s", boundJob, job.ID)
	}

	// Both tokens carry spare capacity; the cooling one is attached too and
	// only skipped at execution time.
	if n := countRows(t, pool, "token_jobs"); n != 2 {
		t.Errorf("token_jobs rows = %d, want 2", n)
	}

	again, err := intentions.CreateJob(ctx, in.ID, worker)
	if err != nil {
		t.Fatalf("create job again: %v", err)
	}
	if again != nil {
		t.Errorf("second create job returned %v, want nil for an already-bound intention", again)
	}
	if n := countRows(t, pool, "jobs"); n != 1 {
		t.Errorf("jobs rows = %d, want 1", n)
	}
}

func TestCreateJob_TokenCapExhausted(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	intentions := postgres.NewIntentionRepository(pool, testLogger())

	user := seedUser(t, pool)
	worker := seedWorker(t, pool)
	// Meetup tokens cap at one concurrent job.
	seedToken(t, pool, user, domain.SourceMeetup, past())
	in1 := seedIntention(t, pool, domain.KindMeetupRaw, user, seedMeetupGroup(t, pool, "go-users"))
	in2 := seedIntention(t, pool, domain.KindMeetupRaw, user, seedMeetupGroup(t, pool, "rust-users"))

	job, err := intentions.CreateJob(ctx, in1.ID, worker)
	if err != nil || job == nil {
		t.Fatalf("first create job: %v, %v", job, err)
	}

	blocked, err := intentions.CreateJob(ctx, in2.ID, worker)
	if err != nil {
		t.Fatalf("second create job: %v", err)
	}
	if blocked != nil {
		t.Errorf("second job created over the token cap: %v", blocked)
	}
	if n := countRows(t, pool, "token_jobs"); n != 1 {
		t.Errorf("token_jobs rows = %d, want 1", n)
	}

	var boundJob *string
	if err := pool.QueryRow(ctx, `SELECT job_id FROM intentions WHERE id = $1`, in2.ID).Scan(&boundJob); err != nil {
		t.Fatalf("read intention: %v", err)
	}
	if boundJob != nil {
		t.Errorf("capped intention bound to %s, want unbound", *boundJob)
	}
}

func TestCoalesce_SharesOneJobAcrossUsers(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	intentions := postgres.NewIntentionRepository(pool, testLogger())
	jobs := postgres.NewJobRepository(pool, testLogger())

	userA := seedUser(t, pool)
	userB := seedUser(t, pool)
	worker := seedWorker(t, pool)
	repoID := seedGitHubRepo(t, pool, "o", "r")
	seedToken(t, pool, userA, domain.SourceGitHub, past())
	seedToken(t, pool, userB, domain.SourceGitHub, past())

	inB := seedIntention(t, pool, domain.KindGitHubRaw, userB, repoID)
	job, err := intentions.CreateJob(ctx, inB.ID, worker)
	if err != nil || job == nil {
		t.Fatalf("create job for B: %v, %v", job, err)
	}

	inA := seedIntention(t, pool, domain.KindGitHubRaw, userA, repoID)
	shared, err := intentions.Coalesce(ctx, inA.ID)
	if err != nil {
		t.Fatalf("coalesce: %v", err)
	}
	if shared == nil || shared.ID != job.ID {
		t.Fatalf("coalesced onto %v, want job %s", shared, job.ID)
	}
	if n := countRows(t, pool, "jobs"); n != 1 {
		t.Errorf("jobs rows = %d, want 1: same target shares one job", n)
	}
	// A's token now backs the shared job alongside B's.
	if n := countRows(t, pool, "token_jobs"); n != 2 {
		t.Errorf("token_jobs rows = %d, want 2", n)
	}

	arch, err := jobs.Archive(ctx, job.ID, domain.ArchOK)
	if err != nil {
		t.Fatalf("archive job: %v", err)
	}

	rows, err := pool.Query(ctx, `SELECT user_id, status, arch_job_id FROM archived_intentions`)
	if err != nil {
		t.Fatalf("read archived intentions: %v", err)
	}
	defer rows.Close()
	var archived int
	for rows.Next() {
		var userID, status, archJobID string
		if err := rows.Scan(&userID, &status, &archJobID); err != nil {
			t.Fatalf("scan archived intention: %v", err)
		}
		archived++
		if status != string(domain.ArchOK) {
			t.Errorf("archived status = %s, want OK", status)
		}
		if archJobID != arch.ID {
			t.Errorf("archived references job %s, want %s", archJobID, arch.ID)
		}
	}
	if archived != 2 {
		t.Errorf("archived intentions = %d, want one per coalesced user", archived)
	}
	if n := countRows(t, pool, "intentions"); n != 0 {
		t.Errorf("live intentions left after archive: %d", n)
	}
	if n := countRows(t, pool, "jobs"); n != 0 {
		t.Errorf("live jobs left after archive: %d", n)
	}
	if n := countRows(t, pool, "token_jobs"); n != 0 {
		t.Errorf("token attachments left after archive: %d", n)
	}
}

func TestCoalesce_BindsButReportsNothingWithoutCapacity(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	intentions := postgres.NewIntentionRepository(pool, testLogger())

	userA := seedUser(t, pool)
	userB := seedUser(t, pool)
	worker := seedWorker(t, pool)
	repoID := seedMeetupGroup(t, pool, "go-users")
	seedToken(t, pool, userA, domain.SourceMeetup, past())

	inA := seedIntention(t, pool, domain.KindMeetupRaw, userA, repoID)
	job, err := intentions.CreateJob(ctx, inA.ID, worker)
	if err != nil || job == nil {
		t.Fatalf("create job for A: %v, %v", job, err)
	}

	// B owns no meetup token, so coalescing binds the intention to the
	// shared job but reports no usable job back.
	inB := seedIntention(t, pool, domain.KindMeetupRaw, userB, repoID)
	shared, err := intentions.Coalesce(ctx, inB.ID)
	if err != nil {
		t.Fatalf("coalesce: %v", err)
	}
	if shared != nil {
		t.Errorf("coalesce returned %v, want nil without token capacity", shared)
	}
	var boundJob *string
	if err := pool.QueryRow(ctx, `SELECT job_id FROM intentions WHERE id = $1`, inB.ID).Scan(&boundJob); err != nil {
		t.Fatalf("read intention: %v", err)
	}
	if boundJob == nil || *boundJob != job.ID {
		t.Errorf("intention bound to %v, want shared job %s", boundJob, job.ID)
	}
}

func TestCoalesce_NoSiblingJob(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	intentions := postgres.NewIntentionRepository(pool, testLogger())

	user := seedUser(t, pool)
	in := seedIntention(t, pool, domain.KindGitRaw, user, seedGitRepo(t, pool, "https://example.com/r.git"))

	job, err := intentions.Coalesce(ctx, in.ID)
	if err != nil {
		t.Fatalf("coalesce: %v", err)
	}
	if job != nil {
		t.Errorf("coalesce returned %v with no sibling job", job)
	}
}

func TestNextJob_TokenReadinessGatesResumption(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	intentions := postgres.NewIntentionRepository(pool, testLogger())
	jobs := postgres.NewJobRepository(pool, testLogger())
	tokens := postgres.NewTokenRepository(pool)

	user := seedUser(t, pool)
	worker := seedWorker(t, pool)
	repoID := seedGitHubRepo(t, pool, "o", "r")
	tokenID := seedToken(t, pool, user, domain.SourceGitHub, past())
	in := seedIntention(t, pool, domain.KindGitHubRaw, user, repoID)

	job, err := intentions.CreateJob(ctx, in.ID, worker)
	if err != nil || job == nil {
		t.Fatalf("create job: %v, %v", job, err)
	}

	// A claimed job is never resumable.
	bj, err := intentions.NextJob(ctx, domain.KindGitHubRaw, worker)
	if err != nil {
		t.Fatalf("next job while claimed: %v", err)
	}
	if bj != nil {
		t.Fatalf("claimed job resumed: %v", bj.Job)
	}

	// The rate-limited path: job released, token cooling down.
	if err := jobs.Release(ctx, job.ID, worker); err != nil {
		t.Fatalf("release job: %v", err)
	}
	if err := tokens.Delay(ctx, tokenID, time.Now().Add(10*time.Minute)); err != nil {
		t.Fatalf("delay token: %v", err)
	}

	bj, err = intentions.NextJob(ctx, domain.KindGitHubRaw, worker)
	if err != nil {
		t.Fatalf("next job while token cooling: %v", err)
	}
	if bj != nil {
		t.Fatalf("job resumed with only cooling tokens: %v", bj.Job)
	}

	// Once the token resets the job comes back, claimed for this worker.
	if err := tokens.Delay(ctx, tokenID, past()); err != nil {
		t.Fatalf("reset token: %v", err)
	}
	bj, err = intentions.NextJob(ctx, domain.KindGitHubRaw, worker)
	if err != nil {
		t.Fatalf("next job with ready token: %v", err)
	}
	if bj == nil || bj.Job.ID != job.ID {
		t.Fatalf("next job = %v, want job %s", bj, job.ID)
	}
	if bj.Intention.ID != in.ID {
		t.Errorf("next job bound intention = %s, want %s", bj.Intention.ID, in.ID)
	}

	var claimedBy *string
	if err := pool.QueryRow(ctx, `SELECT worker_id FROM jobs WHERE id = $1`, job.ID).Scan(&claimedBy); err != nil {
		t.Fatalf("read job: %v", err)
	}
	if claimedBy == nil || *claimedBy != worker {
		t.Errorf("job claimed by %v, want %s", claimedBy, worker)
	}
}

func TestGetOrCreate_ReturnsExistingRow(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	intentions := postgres.NewIntentionRepository(pool, testLogger())

	user := seedUser(t, pool)
	repoID := seedGitRepo(t, pool, "https://example.com/r.git")

	first, created, err := intentions.GetOrCreate(ctx, domain.KindGitRaw, user, repoID)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if !created {
		t.Error("first call reported created=false")
	}

	second, created, err := intentions.GetOrCreate(ctx, domain.KindGitRaw, user, repoID)
	if err != nil {
		t.Fatalf("get or create again: %v", err)
	}
	if created {
		t.Error("second call reported created=true")
	}
	if second.ID != first.ID {
		t.Errorf("second call returned %s, want existing %s", second.ID, first.ID)
	}
}

func TestUsersWithReady_SkipsBlockedUsers(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	intentions := postgres.NewIntentionRepository(pool, testLogger())

	ready := seedUser(t, pool)
	blocked := seedUser(t, pool)
	repoID := seedGitRepo(t, pool, "https://example.com/r.git")

	seedIntention(t, pool, domain.KindGitRaw, ready, repoID)

	raw := seedIntention(t, pool, domain.KindGitRaw, blocked, seedGitRepo(t, pool, "https://example.com/s.git"))
	enrich := seedIntention(t, pool, domain.KindGitEnrich, blocked, raw.RepoID)
	if err := intentions.AddPrevious(ctx, enrich.ID, raw.ID); err != nil {
		t.Fatalf("add previous: %v", err)
	}
	// Bind the blocked user's only ready intention to a job.
	worker := seedWorker(t, pool)
	if job, err := intentions.CreateJob(ctx, raw.ID, worker); err != nil || job == nil {
		t.Fatalf("create job: %v, %v", job, err)
	}

	users, err := intentions.UsersWithReady(ctx, 10)
	if err != nil {
		t.Fatalf("users with ready: %v", err)
	}
	if len(users) != 1 || users[0] != ready {
		t.Errorf("users with ready = %v, want only %s", users, ready)
	}
}
