package session_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/loandesk/backend/internal/model/loan"
	"github.com/loandesk/backend/internal/service/session"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type storeFactory func(t *testing.T, clock *fakeClock) session.Store

func memoryFactory(t *testing.T, clock *fakeClock) session.Store {
	return session.NewMemoryStore(time.Hour, session.WithClock(clock.Now))
}

func sqliteFactory(t *testing.T, clock *fakeClock) session.Store {
	store, err := session.NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"), time.Hour, session.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewSQLiteStore err: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, memoryFactory)
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, sqliteFactory)
}

func runStoreSuite(t *testing.T, factory storeFactory) {
	tests := map[string]func(t *testing.T, store session.Store, clock *fakeClock){
		"CreateAndGet":            testCreateAndGet,
		"CallerSuppliedID":        testCallerSuppliedID,
		"UnknownSession":          testUnknownSession,
		"AppendTurnOrdering":      testAppendTurnOrdering,
		"PhaseNeverRegresses":     testPhaseNeverRegresses,
		"FieldsAreCopied":         testFieldsAreCopied,
		"FindingsAreImmutable":    testFindingsAreImmutable,
		"DecisionIsWrittenOnce":   testDecisionIsWrittenOnce,
		"EvictExpired":            testEvictExpired,
		"EvictSkipsLockedSession": testEvictSkipsLockedSession,
		"ConcurrentAppends":       testConcurrentAppends,
		"CommitIsAllOrNothing":    testCommitIsAllOrNothing,
	}
	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			fn(t, factory(t, clock), clock)
		})
	}
}

func testCreateAndGet(t *testing.T, store session.Store, _ *fakeClock) {
	ctx := context.Background()
	created, err := store.Create(ctx, "")
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated session id")
	}

	got, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get err: %v", err)
	}
	if got.Phase != loan.PhaseCollecting {
		t.Fatalf("expected collecting phase, got %s", got.Phase)
	}
	if len(got.Transcript) != 0 || len(got.Fields) != 0 || got.Decision != nil {
		t.Fatalf("expected empty session, got %+v", got)
	}
}

func testCallerSuppliedID(t *testing.T, store session.Store, _ *fakeClock) {
	ctx := context.Background()
	if _, err := store.Create(ctx, "client-42"); err != nil {
		t.Fatalf("Create err: %v", err)
	}
	if _, err := store.Create(ctx, "client-42"); !errors.Is(err, session.ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
}

func testUnknownSession(t *testing.T, store session.Store, _ *fakeClock) {
	ctx := context.Background()
	if _, err := store.Get(ctx, "does-not-exist"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := store.AppendTurn(ctx, "does-not-exist", loan.Turn{Speaker: "user", Text: "hi"}); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("AppendTurn: expected ErrSessionNotFound, got %v", err)
	}
	if err := store.SetPhase(ctx, "does-not-exist", loan.PhaseCollected); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("SetPhase: expected ErrSessionNotFound, got %v", err)
	}
	if err := store.SetField(ctx, "does-not-exist", "name", "x"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("SetField: expected ErrSessionNotFound, got %v", err)
	}
}

func testAppendTurnOrdering(t *testing.T, store session.Store, _ *fakeClock) {
	ctx := context.Background()
	s, _ := store.Create(ctx, "")

	for i := 0; i < 3; i++ {
		if err := store.AppendTurn(ctx, s.ID, loan.Turn{Speaker: "user", Text: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatalf("AppendTurn err: %v", err)
		}
		got, _ := store.Get(ctx, s.ID)
		if len(got.Transcript) != i+1 {
			t.Fatalf("expected %d turns, got %d", i+1, len(got.Transcript))
		}
	}

	if err := store.AppendTurn(ctx, s.ID,
		loan.Turn{Speaker: "user", Text: "m3"},
		loan.Turn{Speaker: "collector", Text: "m4"},
	); err != nil {
		t.Fatalf("AppendTurn pair err: %v", err)
	}

	got, _ := store.Get(ctx, s.ID)
	for i, turn := range got.Transcript {
		if turn.Text != fmt.Sprintf("m%d", i) {
			t.Fatalf("turn %d out of order: %q", i, turn.Text)
		}
		if turn.CreatedAt.IsZero() {
			t.Fatalf("turn %d missing timestamp", i)
		}
	}
}

func testPhaseNeverRegresses(t *testing.T, store session.Store, _ *fakeClock) {
	ctx := context.Background()
	s, _ := store.Create(ctx, "")

	if err := store.SetPhase(ctx, s.ID, loan.PhaseEvaluating); err != nil {
		t.Fatalf("SetPhase evaluating err: %v", err)
	}
	if err := store.SetPhase(ctx, s.ID, loan.PhaseCollected); err != nil {
		t.Fatalf("evaluating -> collected should be allowed: %v", err)
	}
	if err := store.SetPhase(ctx, s.ID, loan.PhaseCollecting); !errors.Is(err, session.ErrPhaseRegression) {
		t.Fatalf("expected ErrPhaseRegression, got %v", err)
	}

	got, _ := store.Get(ctx, s.ID)
	if got.Phase != loan.PhaseCollected {
		t.Fatalf("failed transition must not change phase, got %s", got.Phase)
	}
}

func testCommitIsAllOrNothing(t *testing.T, store session.Store, _ *fakeClock) {
	ctx := context.Background()
	s, _ := store.Create(ctx, "")

	err := store.Commit(ctx, s.ID, session.TurnUpdate{
		Fields: map[string]string{loan.FieldName: "Jane Doe"},
		Turns: []loan.Turn{
			{Speaker: "user", Text: "I am Jane Doe"},
			{Speaker: "collector", Text: "- Name: Jane Doe"},
		},
		Phase: loan.PhaseCollected,
	})
	if err != nil {
		t.Fatalf("Commit err: %v", err)
	}

	got, _ := store.Get(ctx, s.ID)
	if got.Fields[loan.FieldName] != "Jane Doe" || len(got.Transcript) != 2 || got.Phase != loan.PhaseCollected {
		t.Fatalf("commit not applied: %+v", got)
	}

	err = store.Commit(ctx, s.ID, session.TurnUpdate{
		Fields: map[string]string{loan.FieldEmail: "jane@example.com"},
		Turns:  []loan.Turn{{Speaker: "user", Text: "late message"}},
		Phase:  loan.PhaseCollecting,
	})
	if !errors.Is(err, session.ErrPhaseRegression) {
		t.Fatalf("expected ErrPhaseRegression, got %v", err)
	}

	after, _ := store.Get(ctx, s.ID)
	if _, ok := after.Fields[loan.FieldEmail]; ok {
		t.Fatal("field from a failed commit must not be stored")
	}
	if len(after.Transcript) != 2 {
		t.Fatalf("turns from a failed commit must not be stored, got %d", len(after.Transcript))
	}

	if err := store.Commit(ctx, "does-not-exist", session.TurnUpdate{Turns: []loan.Turn{{Speaker: "user", Text: "hi"}}}); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func testFieldsAreCopied(t *testing.T, store session.Store, _ *fakeClock) {
	ctx := context.Background()
	s, _ := store.Create(ctx, "")
	if err := store.SetField(ctx, s.ID, loan.FieldName, "Jane Doe"); err != nil {
		t.Fatalf("SetField err: %v", err)
	}
	if err := store.SetField(ctx, s.ID, loan.FieldName, "Jane Q. Doe"); err != nil {
		t.Fatalf("SetField overwrite err: %v", err)
	}

	got, _ := store.Get(ctx, s.ID)
	got.Fields[loan.FieldName] = "tampered"

	again, _ := store.Get(ctx, s.ID)
	if again.Fields[loan.FieldName] != "Jane Q. Doe" {
		t.Fatalf("store leaked its field map, got %q", again.Fields[loan.FieldName])
	}
}

func testFindingsAreImmutable(t *testing.T, store session.Store, _ *fakeClock) {
	ctx := context.Background()
	s, _ := store.Create(ctx, "")
	first := loan.Finding{Role: "credit", Verdict: loan.VerdictLowRisk, Score: 80, Rationale: "stable income"}
	if err := store.RecordFinding(ctx, s.ID, first); err != nil {
		t.Fatalf("RecordFinding err: %v", err)
	}
	second := loan.Finding{Role: "credit", Verdict: loan.VerdictHighRisk, Score: 10, Rationale: "changed"}
	if err := store.RecordFinding(ctx, s.ID, second); !errors.Is(err, session.ErrFindingExists) {
		t.Fatalf("expected ErrFindingExists, got %v", err)
	}

	got, _ := store.Get(ctx, s.ID)
	if len(got.Findings) != 1 || got.Findings[0].Verdict != loan.VerdictLowRisk {
		t.Fatalf("unexpected findings: %+v", got.Findings)
	}
}

func testDecisionIsWrittenOnce(t *testing.T, store session.Store, _ *fakeClock) {
	ctx := context.Background()
	s, _ := store.Create(ctx, "")
	if err := store.SetPhase(ctx, s.ID, loan.PhaseCollected); err != nil {
		t.Fatalf("SetPhase err: %v", err)
	}

	decision := loan.Decision{
		Verdict:  loan.VerdictApprove,
		Summary:  "Final recommendation: approve",
		Findings: []loan.Finding{{Role: "credit", Verdict: loan.VerdictLowRisk, Score: 80}},
	}
	if err := store.SetDecision(ctx, s.ID, decision); err != nil {
		t.Fatalf("SetDecision err: %v", err)
	}
	if err := store.SetDecision(ctx, s.ID, loan.Decision{Verdict: loan.VerdictDecline}); !errors.Is(err, session.ErrDecisionExists) {
		t.Fatalf("expected ErrDecisionExists, got %v", err)
	}

	first, _ := store.Get(ctx, s.ID)
	second, _ := store.Get(ctx, s.ID)
	if first.Phase != loan.PhaseComplete {
		t.Fatalf("expected complete phase, got %s", first.Phase)
	}
	if first.Decision == nil || first.Decision.Verdict != loan.VerdictApprove {
		t.Fatalf("unexpected decision: %+v", first.Decision)
	}
	if !reflect.DeepEqual(first.Decision, second.Decision) {
		t.Fatalf("decision differs between reads:\n%+v\n%+v", first.Decision, second.Decision)
	}
}

func testEvictExpired(t *testing.T, store session.Store, clock *fakeClock) {
	ctx := context.Background()
	idle, _ := store.Create(ctx, "idle")
	clock.Advance(45 * time.Minute)
	active, _ := store.Create(ctx, "active")
	clock.Advance(30 * time.Minute)

	evicted, err := store.EvictExpired(ctx, clock.Now())
	if err != nil {
		t.Fatalf("EvictExpired err: %v", err)
	}
	if evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if _, err := store.Get(ctx, idle.ID); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("idle session should be gone, got %v", err)
	}
	if _, err := store.Get(ctx, active.ID); err != nil {
		t.Fatalf("active session should survive: %v", err)
	}
}

func testEvictSkipsLockedSession(t *testing.T, store session.Store, clock *fakeClock) {
	ctx := context.Background()
	s, _ := store.Create(ctx, "busy")
	clock.Advance(2 * time.Hour)

	unlock, err := store.Lock(ctx, s.ID)
	if err != nil {
		t.Fatalf("Lock err: %v", err)
	}
	evicted, err := store.EvictExpired(ctx, clock.Now())
	if err != nil {
		t.Fatalf("EvictExpired err: %v", err)
	}
	if evicted != 0 {
		t.Fatalf("locked session must not be evicted, got %d", evicted)
	}
	unlock()

	evicted, _ = store.EvictExpired(ctx, clock.Now())
	if evicted != 1 {
		t.Fatalf("expected eviction once unlocked, got %d", evicted)
	}
}

func testConcurrentAppends(t *testing.T, store session.Store, _ *fakeClock) {
	ctx := context.Background()
	s, _ := store.Create(ctx, "")

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.AppendTurn(ctx, s.ID,
				loan.Turn{Speaker: "user", Text: fmt.Sprintf("q%d", i)},
				loan.Turn{Speaker: "collector", Text: fmt.Sprintf("a%d", i)},
			); err != nil {
				t.Errorf("AppendTurn err: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, _ := store.Get(ctx, s.ID)
	if len(got.Transcript) != 2*writers {
		t.Fatalf("expected %d turns, got %d", 2*writers, len(got.Transcript))
	}
	for i := 0; i < len(got.Transcript); i += 2 {
		q, a := got.Transcript[i].Text, got.Transcript[i+1].Text
		if q[1:] != a[1:] {
			t.Fatalf("pair interleaved at %d: %q then %q", i, q, a)
		}
	}
}
