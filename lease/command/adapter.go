package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/account-lease-bot/lease/contract"
	messagex "github.com/tanpawarit/account-lease-bot/lease/message"
)

const DefaultPrefix = "/"

// Registry is the registry surface the adapter drives.
type Registry interface {
	Acquire(ctx context.Context, account contractx.Account, holder contractx.Requester) error
	Release(ctx context.Context, account contractx.Account) (*contractx.Handoff, error)
	RequestAccess(ctx context.Context, requester contractx.Requester) (contractx.WaitOutcome, error)
	Withdraw(ctx context.Context, requester contractx.Requester) (int, error)
	Status() contractx.StatusReport
}

// Message is an inbound chat message.
type Message struct {
	Author contractx.Requester `json:"author"`
	Text   string              `json:"text"`
}

// Reply is what the chat gateway should post. Direct replies go to the author
// privately, the rest to the channel the command came from.
type Reply struct {
	Text   string `json:"text"`
	Direct bool   `json:"direct"`
}

type Option func(*Adapter)

func WithPrefix(prefix string) Option {
	return func(a *Adapter) {
		if p := strings.TrimSpace(prefix); p != "" {
			a.prefix = p
		}
	}
}

// WithNotifier makes /wait answers go out through n instead of the reply.
func WithNotifier(n contractx.Notifier) Option {
	return func(a *Adapter) {
		a.notifier = n
	}
}

type Adapter struct {
	registry Registry
	notifier contractx.Notifier
	prefix   string
}

func New(registry Registry, opts ...Option) (*Adapter, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	a := &Adapter{
		registry: registry,
		prefix:   DefaultPrefix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Handle runs one chat message. ok is false when the text is not a command.
// Registry rejections are turned into direct replies; err is reserved for
// malformed input.
func (a *Adapter) Handle(ctx context.Context, msg Message) (Reply, bool, error) {
	cmd, ok := Parse(a.prefix, msg.Text)
	if !ok {
		return Reply{}, false, nil
	}
	if msg.Author.ID == "" {
		return Reply{}, true, contractx.ErrInvalidRequester
	}

	logger := log.With().
		Str("command", cmd.Name).
		Str("requester_id", msg.Author.ID).
		Logger()
	logger.Debug().Strs("args", cmd.Args).Msg("command: received")

	switch cmd.Name {
	case CmdInfo:
		return Reply{Text: messagex.StatusBoard(a.registry.Status())}, true, nil
	case CmdWait:
		return a.wait(ctx, msg.Author), true, nil
	case CmdUnwait:
		return a.unwait(ctx, msg.Author), true, nil
	case CmdLogOn:
		account, err := singleAccount(cmd)
		if err != nil {
			return Reply{Text: usage(a.prefix, CmdLogOn), Direct: true}, true, nil
		}
		return a.logOn(ctx, account, msg.Author), true, nil
	case CmdLogOff:
		account, err := singleAccount(cmd)
		if err != nil {
			return Reply{Text: usage(a.prefix, CmdLogOff), Direct: true}, true, nil
		}
		return a.logOff(ctx, account), true, nil
	case CmdHelp:
		return Reply{Text: help(a.prefix), Direct: true}, true, nil
	default:
		logger.Info().Msg("command: unknown")
		return Reply{
			Text:   fmt.Sprintf("Could not find command named `%s`, try `%s%s`", cmd.Name, a.prefix, CmdHelp),
			Direct: true,
		}, true, nil
	}
}

func (a *Adapter) wait(ctx context.Context, author contractx.Requester) Reply {
	out, err := a.registry.RequestAccess(ctx, author)
	if err != nil {
		return Reply{Text: messagex.Failure("", err), Direct: true}
	}

	var ev contractx.Event = contractx.AccountsAvailable{Accounts: out.Available}
	if out.Enqueued {
		ev = contractx.WaitRegistered{Position: out.Position}
	}

	if a.notifier != nil {
		nerr := a.notifier.Notify(ctx, author, ev)
		if nerr == nil {
			return Reply{}
		}
		log.Warn().
			Err(nerr).
			Str("requester_id", author.ID).
			Str("kind", string(ev.Kind())).
			Msg("command: wait notification failed, replying instead")
	}
	return Reply{Text: messagex.Event(ev), Direct: true}
}

func (a *Adapter) unwait(ctx context.Context, author contractx.Requester) Reply {
	removed, err := a.registry.Withdraw(ctx, author)
	if err != nil {
		return Reply{Text: messagex.Failure("", err), Direct: true}
	}
	return Reply{Text: fmt.Sprintf("You have left the waiting list (%d entries removed)", removed), Direct: true}
}

func (a *Adapter) logOn(ctx context.Context, account contractx.Account, author contractx.Requester) Reply {
	if err := a.registry.Acquire(ctx, account, author); err != nil {
		return Reply{Text: messagex.Failure(account, err), Direct: true}
	}
	return Reply{Text: fmt.Sprintf("Account `%s` is now in use by you", account), Direct: true}
}

func (a *Adapter) logOff(ctx context.Context, account contractx.Account) Reply {
	handoff, err := a.registry.Release(ctx, account)
	if err != nil {
		return Reply{Text: messagex.Failure(account, err), Direct: true}
	}
	text := fmt.Sprintf("Account `%s` has been logged off", account)
	if handoff != nil {
		text += fmt.Sprintf(", %s was next in line", handoff.Waiter)
	}
	return Reply{Text: text, Direct: true}
}

func singleAccount(cmd Command) (contractx.Account, error) {
	if len(cmd.Args) == 0 {
		return "", fmt.Errorf("%w: %s needs an account name", contractx.ErrInvalidCommand, cmd.Name)
	}
	return contractx.Account(cmd.Args[0]), nil
}

func usage(prefix, name string) string {
	return fmt.Sprintf("Usage: `%s%s <account>`", prefix, name)
}

func help(prefix string) string {
	lines := []string{
		"**Commands:**",
		fmt.Sprintf("- `%s%s` show which accounts are online", prefix, CmdInfo),
		fmt.Sprintf("- `%s%s` list free accounts or join the waiting list", prefix, CmdWait),
		fmt.Sprintf("- `%s%s` leave the waiting list", prefix, CmdUnwait),
		fmt.Sprintf("- `%s%s <account>` start using an account", prefix, CmdLogOn),
		fmt.Sprintf("- `%s%s <account>` stop using an account", prefix, CmdLogOff),
	}
	return strings.Join(lines, "\n")
}
