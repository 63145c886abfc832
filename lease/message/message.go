package message

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/account-lease-bot/lease/contract"
)

// Event renders a notification as chat markdown.
func Event(ev contractx.Event) string {
	switch e := ev.(type) {
	case contractx.AccountFreed:
		return fmt.Sprintf("An account has been freed up, you can now use the account `%s`", e.Account)
	case contractx.AccountsAvailable:
		var b strings.Builder
		b.WriteString("There are account(s) available\n")
		b.WriteString("**Available accounts:**\n")
		writeList(&b, e.Accounts)
		return b.String()
	case contractx.WaitRegistered:
		if e.Position > 1 {
			return fmt.Sprintf("You will get notified as soon as an account is available (position %d in the queue)", e.Position)
		}
		return "You will get notified as soon as an account is available"
	default:
		return ""
	}
}

// Failure renders a registry error for the user who caused it.
func Failure(account contractx.Account, err error) string {
	switch contractx.KindOf(err) {
	case contractx.KindUnknownAccount:
		return fmt.Sprintf("Account `%s` is not recognised", account)
	case contractx.KindAlreadyHeld:
		return fmt.Sprintf("Account `%s` is already in use", account)
	case contractx.KindNotHeld:
		return fmt.Sprintf("Account `%s` is already logged off", account)
	case contractx.KindNotWaiting:
		return "You are not on the waiting list"
	case contractx.KindInvalid:
		return "Sorry, that request is not valid"
	default:
		return "Something went wrong, please try again"
	}
}

// StatusBoard renders the channel status message.
func StatusBoard(report contractx.StatusReport) string {
	holders := make(map[contractx.Account]contractx.Requester, len(report.Leases))
	for _, l := range report.Leases {
		holders[l.Account] = l.Holder
	}

	var b strings.Builder
	b.WriteString("# All accounts\n")
	b.WriteString("**Online:**\n")
	for _, acc := range report.InUse {
		if h, ok := holders[acc]; ok && h.ID != "" {
			fmt.Fprintf(&b, "- %s (%s)\n", acc, h)
			continue
		}
		fmt.Fprintf(&b, "- %s\n", acc)
	}
	b.WriteString("**Offline:**\n")
	writeList(&b, report.Available)
	if len(report.Waiting) > 0 {
		fmt.Fprintf(&b, "**Waiting:** %d\n", len(report.Waiting))
	}
	return b.String()
}

func writeList(b *strings.Builder, accounts []contractx.Account) {
	for _, acc := range accounts {
		fmt.Fprintf(b, "- %s\n", acc)
	}
}
