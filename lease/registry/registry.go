package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/account-lease-bot/lease/contract"
)

// Option customizes a Registry.
type Option func(*Registry)

func WithNotifier(n contractx.Notifier) Option {
	return func(r *Registry) {
		if n != nil {
			r.notifier = n
		}
	}
}

func WithRecorder(rec contractx.Recorder) Option {
	return func(r *Registry) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry tracks which accounts of a fixed roster are held and who is
// waiting for one. Every operation runs under a single mutex; notifier and
// recorder calls are made after the mutex is released.
type Registry struct {
	mu sync.Mutex

	accounts []contractx.Account
	index    map[contractx.Account]int
	leases   []*contractx.Lease // by roster position, nil when free
	held     int
	waiting  []contractx.Requester
	seq      uint64

	notifier contractx.Notifier
	recorder contractx.Recorder
	now      func() time.Time
}

// New builds a registry over the roster. Names must be non-empty and unique;
// the roster order becomes the registry's stable ordering.
func New(accounts []contractx.Account, opts ...Option) (*Registry, error) {
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: roster is empty", contractx.ErrInvalidRoster)
	}

	index := make(map[contractx.Account]int, len(accounts))
	for i, acc := range accounts {
		if !acc.Valid() {
			return nil, fmt.Errorf("%w: empty account name at position %d", contractx.ErrInvalidRoster, i)
		}
		if _, dup := index[acc]; dup {
			return nil, fmt.Errorf("%w: duplicate account %q", contractx.ErrInvalidRoster, acc)
		}
		index[acc] = i
	}

	r := &Registry{
		accounts: append([]contractx.Account(nil), accounts...),
		index:    index,
		leases:   make([]*contractx.Lease, len(accounts)),
		notifier: noopNotifier{},
		recorder: noopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Accounts returns the roster in registry order.
func (r *Registry) Accounts() []contractx.Account {
	return append([]contractx.Account(nil), r.accounts...)
}

// Acquire marks account as held by holder. It fails with ErrUnknownAccount
// for names outside the roster and ErrAlreadyHeld when the account is taken;
// in both cases the state is left unchanged.
func (r *Registry) Acquire(ctx context.Context, account contractx.Account, holder contractx.Requester) error {
	now := r.now().UTC()

	r.mu.Lock()
	err := r.acquireLocked(account, holder, now)
	tr := r.transitionLocked(contractx.OpAcquire, account, holder, err, now)
	r.mu.Unlock()

	r.recorder.Record(ctx, tr)
	return err
}

func (r *Registry) acquireLocked(account contractx.Account, holder contractx.Requester, now time.Time) error {
	idx, ok := r.index[account]
	if !ok {
		return fmt.Errorf("%w: %q", contractx.ErrUnknownAccount, account)
	}
	if r.leases[idx] != nil {
		return fmt.Errorf("%w: %q", contractx.ErrAlreadyHeld, account)
	}
	r.leases[idx] = &contractx.Lease{Account: account, Holder: holder, Since: now}
	r.held++
	return nil
}

// Release frees account and hands it to the oldest waiter, if any. Only one
// waiter is served per release. A failed notification is reported on the
// returned Handoff and never undoes the release.
func (r *Registry) Release(ctx context.Context, account contractx.Account) (*contractx.Handoff, error) {
	now := r.now().UTC()

	r.mu.Lock()
	handoff, err := r.releaseLocked(account)
	tr := r.transitionLocked(contractx.OpRelease, account, contractx.Requester{}, err, now)
	r.mu.Unlock()

	r.recorder.Record(ctx, tr)
	if err != nil || handoff == nil {
		return handoff, err
	}

	if nerr := r.notifier.Notify(ctx, handoff.Waiter, contractx.AccountFreed{Account: account}); nerr != nil {
		handoff.NotifyErr = fmt.Errorf("%w: %w", contractx.ErrNotificationFailed, nerr)
		log.Warn().
			Err(nerr).
			Str("account", account.String()).
			Str("requester_id", handoff.Waiter.ID).
			Msg("registry: account freed notification failed")
	}
	r.recorder.Record(ctx, contractx.Transition{
		Seq:       tr.Seq,
		Op:        contractx.OpNotify,
		Account:   account,
		Requester: handoff.Waiter,
		Err:       handoff.NotifyErr,
		Held:      tr.Held,
		Waiting:   tr.Waiting,
		At:        now,
	})
	return handoff, nil
}

func (r *Registry) releaseLocked(account contractx.Account) (*contractx.Handoff, error) {
	idx, ok := r.index[account]
	if !ok {
		return nil, fmt.Errorf("%w: %q", contractx.ErrUnknownAccount, account)
	}
	if r.leases[idx] == nil {
		return nil, fmt.Errorf("%w: %q", contractx.ErrNotHeld, account)
	}
	r.leases[idx] = nil
	r.held--

	if len(r.waiting) == 0 {
		return nil, nil
	}
	waiter := r.waiting[0]
	r.waiting[0] = contractx.Requester{}
	r.waiting = r.waiting[1:]
	return &contractx.Handoff{Account: account, Waiter: waiter}, nil
}

// RequestAccess enqueues requester when every account is held. Otherwise it
// lists the free accounts and leaves the state untouched; the caller still
// has to Acquire one explicitly.
func (r *Registry) RequestAccess(ctx context.Context, requester contractx.Requester) (contractx.WaitOutcome, error) {
	if requester.ID == "" {
		return contractx.WaitOutcome{}, contractx.ErrInvalidRequester
	}
	now := r.now().UTC()

	r.mu.Lock()
	var out contractx.WaitOutcome
	if r.held == len(r.accounts) {
		r.waiting = append(r.waiting, requester)
		out = contractx.WaitOutcome{Enqueued: true, Position: len(r.waiting)}
	} else {
		out = contractx.WaitOutcome{Available: r.freeLocked()}
	}
	tr := r.transitionLocked(contractx.OpWait, "", requester, nil, now)
	r.mu.Unlock()

	r.recorder.Record(ctx, tr)
	return out, nil
}

// Withdraw removes every queued entry of requester and returns how many were
// dropped. The relative order of the remaining waiters is kept.
func (r *Registry) Withdraw(ctx context.Context, requester contractx.Requester) (int, error) {
	if requester.ID == "" {
		return 0, contractx.ErrInvalidRequester
	}
	now := r.now().UTC()

	r.mu.Lock()
	kept := r.waiting[:0]
	removed := 0
	for _, w := range r.waiting {
		if w.Same(requester) {
			removed++
			continue
		}
		kept = append(kept, w)
	}
	for i := len(kept); i < len(r.waiting); i++ {
		r.waiting[i] = contractx.Requester{}
	}
	r.waiting = kept

	var err error
	if removed == 0 {
		err = fmt.Errorf("%w: %s", contractx.ErrNotWaiting, requester)
	}
	tr := r.transitionLocked(contractx.OpWithdraw, "", requester, err, now)
	r.mu.Unlock()

	r.recorder.Record(ctx, tr)
	return removed, err
}

// Status returns a consistent snapshot taken under the registry lock.
func (r *Registry) Status() contractx.StatusReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := contractx.StatusReport{
		InUse:     make([]contractx.Account, 0, r.held),
		Available: make([]contractx.Account, 0, len(r.accounts)-r.held),
		Leases:    make([]contractx.Lease, 0, r.held),
		Waiting:   append([]contractx.Requester{}, r.waiting...),
	}
	for i, acc := range r.accounts {
		if l := r.leases[i]; l != nil {
			report.InUse = append(report.InUse, acc)
			report.Leases = append(report.Leases, *l)
			continue
		}
		report.Available = append(report.Available, acc)
	}
	return report
}

func (r *Registry) freeLocked() []contractx.Account {
	free := make([]contractx.Account, 0, len(r.accounts)-r.held)
	for i, acc := range r.accounts {
		if r.leases[i] == nil {
			free = append(free, acc)
		}
	}
	return free
}

func (r *Registry) transitionLocked(
	op contractx.Op,
	account contractx.Account,
	requester contractx.Requester,
	err error,
	now time.Time,
) contractx.Transition {
	r.seq++
	return contractx.Transition{
		Seq:       r.seq,
		Op:        op,
		Account:   account,
		Requester: requester,
		Err:       err,
		Held:      r.held,
		Waiting:   len(r.waiting),
		At:        now,
	}
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, contractx.Requester, contractx.Event) error {
	return nil
}

type noopRecorder struct{}

func (noopRecorder) Record(context.Context, contractx.Transition) {}
