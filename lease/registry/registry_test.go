package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	contractx "github.com/tanpawarit/account-lease-bot/lease/contract"
)

type notification struct {
	requester contractx.Requester
	event     contractx.Event
}

type fakeNotifier struct {
	mu    sync.Mutex
	err   error
	calls []notification
}

func (f *fakeNotifier) Notify(ctx context.Context, requester contractx.Requester, event contractx.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notification{requester: requester, event: event})
	return f.err
}

func (f *fakeNotifier) snapshot() []notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notification(nil), f.calls...)
}

type fakeRecorder struct {
	mu          sync.Mutex
	transitions []contractx.Transition
}

func (f *fakeRecorder) Record(ctx context.Context, tr contractx.Transition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, tr)
}

func user(id string) contractx.Requester {
	return contractx.Requester{ID: id, Name: "user-" + id}
}

func accounts(names ...string) []contractx.Account {
	out := make([]contractx.Account, 0, len(names))
	for _, n := range names {
		out = append(out, contractx.Account(n))
	}
	return out
}

func newTestRegistry(t *testing.T, names []string, opts ...Option) *Registry {
	t.Helper()

	reg, err := New(accounts(names...), opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return reg
}

func assertAccounts(t *testing.T, label string, got []contractx.Account, want ...string) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("%s = %v, want %v", label, got, want)
	}
	for i := range want {
		if string(got[i]) != want[i] {
			t.Fatalf("%s = %v, want %v", label, got, want)
		}
	}
}

func TestNewRejectsInvalidRoster(t *testing.T) {
	t.Parallel()

	cases := map[string][]contractx.Account{
		"empty roster": nil,
		"empty name":   accounts("a", "  "),
		"duplicate":    accounts("a", "b", "a"),
	}
	for name, roster := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			if _, err := New(roster); !errors.Is(err, contractx.ErrInvalidRoster) {
				t.Fatalf("New() error = %v, want ErrInvalidRoster", err)
			}
		})
	}
}

func TestNewKeepsCaseSensitiveNames(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, []string{"alpha", "Alpha"})
	assertAccounts(t, "Accounts()", reg.Accounts(), "alpha", "Alpha")
}

func TestAcquireTwiceFailsWithAlreadyHeld(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, []string{"A", "B"})
	ctx := context.Background()

	if err := reg.Acquire(ctx, "A", user("1")); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	err := reg.Acquire(ctx, "A", user("2"))
	if !errors.Is(err, contractx.ErrAlreadyHeld) {
		t.Fatalf("Acquire() error = %v, want ErrAlreadyHeld", err)
	}

	status := reg.Status()
	assertAccounts(t, "InUse", status.InUse, "A")
	if len(status.Leases) != 1 || status.Leases[0].Holder.ID != "1" {
		t.Fatalf("lease holder changed after rejected acquire: %+v", status.Leases)
	}
}

func TestAcquireUnknownAccount(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, []string{"A"})
	err := reg.Acquire(context.Background(), "a", user("1"))
	if !errors.Is(err, contractx.ErrUnknownAccount) {
		t.Fatalf("Acquire() error = %v, want ErrUnknownAccount", err)
	}
	if errors.Is(err, contractx.ErrAlreadyHeld) {
		t.Fatal("unknown account must not also report AlreadyHeld")
	}
	assertAccounts(t, "InUse", reg.Status().InUse)
}

func TestReleaseTwiceFailsWithNotHeld(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, []string{"A", "B"})
	ctx := context.Background()

	if err := reg.Acquire(ctx, "A", user("1")); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := reg.Acquire(ctx, "B", user("2")); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := reg.Release(ctx, "A"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	_, err := reg.Release(ctx, "A")
	if !errors.Is(err, contractx.ErrNotHeld) {
		t.Fatalf("Release() error = %v, want ErrNotHeld", err)
	}
	assertAccounts(t, "InUse", reg.Status().InUse, "B")
}

func TestReleaseUnknownAccountLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{}
	reg := newTestRegistry(t, []string{"A"}, WithNotifier(notifier))
	ctx := context.Background()

	if err := reg.Acquire(ctx, "A", user("1")); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := reg.RequestAccess(ctx, user("2")); err != nil {
		t.Fatalf("RequestAccess() error = %v", err)
	}

	handoff, err := reg.Release(ctx, "Z")
	if !errors.Is(err, contractx.ErrUnknownAccount) {
		t.Fatalf("Release() error = %v, want ErrUnknownAccount", err)
	}
	if handoff != nil {
		t.Fatalf("Release() handoff = %+v, want nil", handoff)
	}

	status := reg.Status()
	assertAccounts(t, "InUse", status.InUse, "A")
	if len(status.Waiting) != 1 || status.Waiting[0].ID != "2" {
		t.Fatalf("waiting = %+v, want [2]", status.Waiting)
	}
	if calls := notifier.snapshot(); len(calls) != 0 {
		t.Fatalf("unexpected notifications: %+v", calls)
	}
}

func TestScenarioTwoAccounts(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{}
	reg := newTestRegistry(t, []string{"A", "B"}, WithNotifier(notifier))
	ctx := context.Background()

	if err := reg.Acquire(ctx, "A", user("u1")); err != nil {
		t.Fatalf("Acquire(A, u1) error = %v", err)
	}
	assertAccounts(t, "InUse", reg.Status().InUse, "A")

	if err := reg.Acquire(ctx, "A", user("u2")); !errors.Is(err, contractx.ErrAlreadyHeld) {
		t.Fatalf("Acquire(A, u2) error = %v, want ErrAlreadyHeld", err)
	}

	out, err := reg.RequestAccess(ctx, user("u3"))
	if err != nil {
		t.Fatalf("RequestAccess(u3) error = %v", err)
	}
	if out.Enqueued {
		t.Fatal("RequestAccess(u3) enqueued while B is free")
	}
	assertAccounts(t, "Available", out.Available, "B")
	if waiting := reg.Status().Waiting; len(waiting) != 0 {
		t.Fatalf("waiting = %+v, want empty", waiting)
	}

	if err := reg.Acquire(ctx, "B", user("u3")); err != nil {
		t.Fatalf("Acquire(B, u3) error = %v", err)
	}
	assertAccounts(t, "InUse", reg.Status().InUse, "A", "B")

	out, err = reg.RequestAccess(ctx, user("u4"))
	if err != nil {
		t.Fatalf("RequestAccess(u4) error = %v", err)
	}
	if !out.Enqueued || out.Position != 1 {
		t.Fatalf("RequestAccess(u4) = %+v, want enqueued at 1", out)
	}

	handoff, err := reg.Release(ctx, "A")
	if err != nil {
		t.Fatalf("Release(A) error = %v", err)
	}
	if handoff == nil || handoff.Waiter.ID != "u4" || !handoff.Notified() {
		t.Fatalf("Release(A) handoff = %+v, want u4 notified", handoff)
	}

	status := reg.Status()
	assertAccounts(t, "InUse", status.InUse, "B")
	assertAccounts(t, "Available", status.Available, "A")
	if len(status.Waiting) != 0 {
		t.Fatalf("waiting = %+v, want empty", status.Waiting)
	}

	calls := notifier.snapshot()
	if len(calls) != 1 {
		t.Fatalf("notifications = %d, want 1", len(calls))
	}
	freed, ok := calls[0].event.(contractx.AccountFreed)
	if !ok || freed.Account != "A" || calls[0].requester.ID != "u4" {
		t.Fatalf("notification = %+v, want AccountFreed{A} to u4", calls[0])
	}
}

func TestReleaseServesWaitersInArrivalOrder(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{}
	reg := newTestRegistry(t, []string{"A", "B"}, WithNotifier(notifier))
	ctx := context.Background()

	for _, acc := range []contractx.Account{"A", "B"} {
		if err := reg.Acquire(ctx, acc, user("holder")); err != nil {
			t.Fatalf("Acquire(%s) error = %v", acc, err)
		}
	}
	for _, id := range []string{"r1", "r2"} {
		out, err := reg.RequestAccess(ctx, user(id))
		if err != nil || !out.Enqueued {
			t.Fatalf("RequestAccess(%s) = %+v, %v", id, out, err)
		}
	}

	if _, err := reg.Release(ctx, "B"); err != nil {
		t.Fatalf("Release(B) error = %v", err)
	}
	if _, err := reg.Release(ctx, "A"); err != nil {
		t.Fatalf("Release(A) error = %v", err)
	}

	calls := notifier.snapshot()
	if len(calls) != 2 {
		t.Fatalf("notifications = %d, want 2", len(calls))
	}
	if calls[0].requester.ID != "r1" || calls[1].requester.ID != "r2" {
		t.Fatalf("notification order = [%s %s], want [r1 r2]", calls[0].requester.ID, calls[1].requester.ID)
	}
}

func TestReleaseWithoutWaitersNotifiesNobody(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{}
	reg := newTestRegistry(t, []string{"A"}, WithNotifier(notifier))
	ctx := context.Background()

	if err := reg.Acquire(ctx, "A", user("1")); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	handoff, err := reg.Release(ctx, "A")
	if err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if handoff != nil {
		t.Fatalf("handoff = %+v, want nil", handoff)
	}
	if calls := notifier.snapshot(); len(calls) != 0 {
		t.Fatalf("unexpected notifications: %+v", calls)
	}
}

func TestNotificationFailureKeepsRelease(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{err: errors.New("dm closed")}
	rec := &fakeRecorder{}
	reg := newTestRegistry(t, []string{"A"}, WithNotifier(notifier), WithRecorder(rec))
	ctx := context.Background()

	if err := reg.Acquire(ctx, "A", user("1")); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := reg.RequestAccess(ctx, user("2")); err != nil {
		t.Fatalf("RequestAccess() error = %v", err)
	}

	handoff, err := reg.Release(ctx, "A")
	if err != nil {
		t.Fatalf("Release() error = %v, want nil", err)
	}
	if handoff == nil || handoff.Notified() {
		t.Fatalf("handoff = %+v, want failed notification", handoff)
	}
	if !errors.Is(handoff.NotifyErr, contractx.ErrNotificationFailed) {
		t.Fatalf("NotifyErr = %v, want ErrNotificationFailed", handoff.NotifyErr)
	}

	status := reg.Status()
	assertAccounts(t, "Available", status.Available, "A")
	if len(status.Waiting) != 0 {
		t.Fatalf("waiter must stay dequeued, got %+v", status.Waiting)
	}

	last := rec.transitions[len(rec.transitions)-1]
	if last.Op != contractx.OpNotify || contractx.KindOf(last.Err) != contractx.KindNotificationFailed {
		t.Fatalf("last transition = %+v, want failed notify", last)
	}
}

func TestRequestAccessDoesNotDeduplicate(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, []string{"A"})
	ctx := context.Background()

	if err := reg.Acquire(ctx, "A", user("1")); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	for want := 1; want <= 2; want++ {
		out, err := reg.RequestAccess(ctx, user("2"))
		if err != nil {
			t.Fatalf("RequestAccess() error = %v", err)
		}
		if out.Position != want {
			t.Fatalf("position = %d, want %d", out.Position, want)
		}
	}
}

func TestRequestAccessRejectsEmptyRequester(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, []string{"A"})
	if _, err := reg.RequestAccess(context.Background(), contractx.Requester{}); !errors.Is(err, contractx.ErrInvalidRequester) {
		t.Fatalf("RequestAccess() error = %v, want ErrInvalidRequester", err)
	}
}

func TestWithdrawRemovesAllEntriesAndKeepsOrder(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, []string{"A"})
	ctx := context.Background()

	if err := reg.Acquire(ctx, "A", user("holder")); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	for _, id := range []string{"r1", "r2", "r1", "r3"} {
		if _, err := reg.RequestAccess(ctx, user(id)); err != nil {
			t.Fatalf("RequestAccess(%s) error = %v", id, err)
		}
	}

	removed, err := reg.Withdraw(ctx, user("r1"))
	if err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}

	waiting := reg.Status().Waiting
	if len(waiting) != 2 || waiting[0].ID != "r2" || waiting[1].ID != "r3" {
		t.Fatalf("waiting = %+v, want [r2 r3]", waiting)
	}

	if _, err := reg.Withdraw(ctx, user("r1")); !errors.Is(err, contractx.ErrNotWaiting) {
		t.Fatalf("Withdraw() error = %v, want ErrNotWaiting", err)
	}
}

func TestStatusFollowsRosterOrder(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	reg := newTestRegistry(t, []string{"c", "a", "b"}, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	for _, acc := range []contractx.Account{"b", "c"} {
		if err := reg.Acquire(ctx, acc, user("1")); err != nil {
			t.Fatalf("Acquire(%s) error = %v", acc, err)
		}
	}

	status := reg.Status()
	assertAccounts(t, "InUse", status.InUse, "c", "b")
	assertAccounts(t, "Available", status.Available, "a")
	if !status.Leases[0].Since.Equal(fixed) {
		t.Fatalf("lease since = %v, want %v", status.Leases[0].Since, fixed)
	}
}

func TestRecorderSeesEveryOperation(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	reg := newTestRegistry(t, []string{"A"}, WithRecorder(rec))
	ctx := context.Background()

	_ = reg.Acquire(ctx, "A", user("1"))
	_ = reg.Acquire(ctx, "A", user("2"))
	_, _ = reg.RequestAccess(ctx, user("3"))
	_, _ = reg.Release(ctx, "A")

	want := []contractx.Op{
		contractx.OpAcquire,
		contractx.OpAcquire,
		contractx.OpWait,
		contractx.OpRelease,
		contractx.OpNotify,
	}
	if len(rec.transitions) != len(want) {
		t.Fatalf("transitions = %d, want %d", len(rec.transitions), len(want))
	}
	for i, op := range want {
		if rec.transitions[i].Op != op {
			t.Fatalf("transition[%d].Op = %s, want %s", i, rec.transitions[i].Op, op)
		}
	}
	if !errors.Is(rec.transitions[1].Err, contractx.ErrAlreadyHeld) {
		t.Fatalf("transition[1].Err = %v, want ErrAlreadyHeld", rec.transitions[1].Err)
	}
	if rec.transitions[2].Waiting != 1 {
		t.Fatalf("transition[2].Waiting = %d, want 1", rec.transitions[2].Waiting)
	}
	for i, wantSeq := range []uint64{1, 2, 3, 4, 4} {
		if got := rec.transitions[i].Seq; got != wantSeq {
			t.Fatalf("transition[%d].Seq = %d, want %d", i, got, wantSeq)
		}
	}
}

func TestConcurrentOperationsKeepInvariants(t *testing.T) {
	t.Parallel()

	names := []string{"a", "b", "c", "d"}
	reg := newTestRegistry(t, names, WithNotifier(&fakeNotifier{}))
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	checkerErr := make(chan error, 1)
	go func() {
		defer close(checkerErr)
		for {
			select {
			case <-stop:
				return
			default:
			}
			status := reg.Status()
			seen := make(map[contractx.Account]int, len(names))
			for _, acc := range status.InUse {
				seen[acc]++
			}
			for _, acc := range status.Available {
				seen[acc]++
			}
			if len(seen) != len(names) {
				checkerErr <- fmt.Errorf("status covers %d accounts, want %d", len(seen), len(names))
				return
			}
			for acc, n := range seen {
				if n != 1 {
					checkerErr <- fmt.Errorf("account %s appears %d times", acc, n)
					return
				}
			}
		}
	}()

	var acquired sync.Map
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			requester := user(fmt.Sprintf("w%d", worker))
			for i := 0; i < 200; i++ {
				acc := contractx.Account(names[(worker+i)%len(names)])
				if err := reg.Acquire(ctx, acc, requester); err == nil {
					if _, loaded := acquired.LoadOrStore(acc, worker); loaded {
						t.Errorf("account %s acquired twice", acc)
					}
					acquired.Delete(acc)
					if _, err := reg.Release(ctx, acc); err != nil {
						t.Errorf("Release(%s) error = %v", acc, err)
					}
				} else if !errors.Is(err, contractx.ErrAlreadyHeld) {
					t.Errorf("Acquire(%s) error = %v", acc, err)
				}
				if i%50 == 0 {
					_, _ = reg.RequestAccess(ctx, requester)
				}
			}
		}(w)
	}

	wg.Wait()
	close(stop)
	if err := <-checkerErr; err != nil {
		t.Fatal(err)
	}

	status := reg.Status()
	if len(status.InUse) != 0 || len(status.Available) != len(names) {
		t.Fatalf("final status = %+v, want all free", status)
	}
}
