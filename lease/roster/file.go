package roster

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/account-lease-bot/lease/contract"
	"gopkg.in/yaml.v3"
)

// FileSource reads a roster document. JSON files such as
//
//	{"accounts": [{"name": "main"}, {"name": "alt"}]}
//
// and the equivalent YAML are accepted; entries may also be bare strings.
type FileSource struct {
	Path string
}

type document struct {
	Accounts []entry `yaml:"accounts"`
}

type entry struct {
	Name string `yaml:"name"`
}

func (e *entry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		e.Name = node.Value
		return nil
	}
	type plain entry
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*e = entry(p)
	return nil
}

func (s FileSource) Load(ctx context.Context) ([]contractx.Account, error) {
	path := strings.TrimSpace(s.Path)
	if path == "" {
		return nil, errors.New("roster file path is empty")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster file: %w", err)
	}

	accounts, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	log.Info().Str("path", path).Int("accounts", len(accounts)).Msg("roster: loaded from file")
	return accounts, nil
}

// Parse decodes and validates a roster document.
func Parse(raw []byte) ([]contractx.Account, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrInvalidRoster, err)
	}

	accounts := make([]contractx.Account, 0, len(doc.Accounts))
	for _, e := range doc.Accounts {
		accounts = append(accounts, contractx.Account(e.Name))
	}
	if err := Validate(accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}
