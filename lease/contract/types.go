package contract

import (
	"strings"
	"time"
)

// Account is the name of a shared account. Names are case-sensitive.
type Account string

func (a Account) String() string {
	return string(a)
}

// Valid reports whether the name is usable as a roster entry.
func (a Account) Valid() bool {
	return strings.TrimSpace(string(a)) != ""
}

// Requester identifies a chat user. Two requesters are the same user when
// their IDs match; Name is only used for display.
type Requester struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (r Requester) Same(other Requester) bool {
	return r.ID == other.ID
}

func (r Requester) String() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

type EventKind string

const (
	EventAccountFreed      EventKind = "account_freed"
	EventAccountsAvailable EventKind = "accounts_available"
	EventWaitRegistered    EventKind = "wait_registered"
)

// Event is one of AccountFreed, AccountsAvailable or WaitRegistered.
type Event interface {
	Kind() EventKind
}

type AccountFreed struct {
	Account Account `json:"account"`
}

func (AccountFreed) Kind() EventKind { return EventAccountFreed }

type AccountsAvailable struct {
	Accounts []Account `json:"accounts"`
}

func (AccountsAvailable) Kind() EventKind { return EventAccountsAvailable }

type WaitRegistered struct {
	Position int `json:"position"`
}

func (WaitRegistered) Kind() EventKind { return EventWaitRegistered }

// WaitOutcome is the answer to RequestAccess. Exactly one of Enqueued or a
// non-empty Available is set.
type WaitOutcome struct {
	Enqueued  bool      `json:"enqueued"`
	Position  int       `json:"position,omitempty"`
	Available []Account `json:"available,omitempty"`
}

// Handoff describes the waiter served by a successful Release.
type Handoff struct {
	Account   Account   `json:"account"`
	Waiter    Requester `json:"waiter"`
	NotifyErr error     `json:"-"`
}

func (h *Handoff) Notified() bool {
	return h != nil && h.NotifyErr == nil
}

// Lease is display-only information about a held account.
type Lease struct {
	Account Account   `json:"account"`
	Holder  Requester `json:"holder"`
	Since   time.Time `json:"since"`
}

// StatusReport is a consistent snapshot of the registry. InUse and Available
// are disjoint, follow roster order, and together cover the whole roster.
type StatusReport struct {
	InUse     []Account   `json:"in_use"`
	Available []Account   `json:"available"`
	Leases    []Lease     `json:"leases"`
	Waiting   []Requester `json:"waiting"`
}

type Op string

const (
	OpAcquire  Op = "acquire"
	OpRelease  Op = "release"
	OpWait     Op = "wait"
	OpWithdraw Op = "withdraw"
	OpNotify   Op = "notify"
)

// Transition is reported to a Recorder after every registry operation.
type Transition struct {
	// Seq is the registry's admission order, starting at 1. Recorders run
	// outside the lock and may see transitions out of Seq order.
	Seq       uint64
	Op        Op
	Account   Account
	Requester Requester
	Err       error
	Held      int
	Waiting   int
	At        time.Time
}
