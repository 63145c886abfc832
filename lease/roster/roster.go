package roster

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/account-lease-bot/lease/contract"
)

// Source yields the account roster once at startup.
type Source interface {
	Load(ctx context.Context) ([]contractx.Account, error)
}

type Config struct {
	File string `split_words:"true" default:"accounts.json"`
	// DSN switches the roster to Postgres when set.
	DSN   string `envconfig:"DSN"`
	Table string `split_words:"true" default:"accounts"`
}

// Validate checks names the way the registry and the command parser need
// them: non-empty, unique, and free of whitespace and commas.
func Validate(accounts []contractx.Account) error {
	if len(accounts) == 0 {
		return fmt.Errorf("%w: no accounts", contractx.ErrInvalidRoster)
	}
	seen := make(map[contractx.Account]int, len(accounts))
	for i, acc := range accounts {
		if !acc.Valid() {
			return fmt.Errorf("%w: empty name at position %d", contractx.ErrInvalidRoster, i)
		}
		if strings.ContainsAny(string(acc), ", \t\r\n") {
			return fmt.Errorf("%w: name %q contains a separator", contractx.ErrInvalidRoster, acc)
		}
		if first, dup := seen[acc]; dup {
			return fmt.Errorf("%w: %q listed at positions %d and %d", contractx.ErrInvalidRoster, acc, first, i)
		}
		seen[acc] = i
	}
	return nil
}
