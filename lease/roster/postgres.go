package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/account-lease-bot/lease/contract"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type accountRow struct {
	bun.BaseModel `bun:"table:accounts,alias:a"`

	Name     string `bun:"name,pk"`
	Position int    `bun:"position,notnull,default:0"`
	Enabled  bool   `bun:"enabled,notnull,default:true"`
}

// PostgresSource reads enabled accounts ordered by position.
type PostgresSource struct {
	db    *bun.DB
	table string
}

// OpenPostgres returns a bun handle; no connection is made until first use.
func OpenPostgres(dsn string) (*bun.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("roster dsn is required")
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

func NewPostgresSource(db *bun.DB, table string) (*PostgresSource, error) {
	if db == nil {
		return nil, errors.New("bun db is required")
	}
	table = strings.TrimSpace(table)
	if table == "" {
		table = "accounts"
	}
	return &PostgresSource{db: db, table: table}, nil
}

func (s *PostgresSource) selectQuery(rows *[]accountRow) *bun.SelectQuery {
	return s.db.NewSelect().
		Model(rows).
		ModelTableExpr("? AS a", bun.Ident(s.table)).
		Column("name").
		Where("a.enabled = TRUE").
		OrderExpr("a.position ASC, a.name ASC")
}

// EnsureSchema creates the roster table when it does not exist yet.
func (s *PostgresSource) EnsureSchema(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*accountRow)(nil)).
		ModelTableExpr("?", bun.Ident(s.table)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create roster table: %w", err)
	}
	return nil
}

func (s *PostgresSource) Load(ctx context.Context) ([]contractx.Account, error) {
	var rows []accountRow
	if err := s.selectQuery(&rows).Scan(ctx); err != nil {
		return nil, fmt.Errorf("query roster: %w", err)
	}

	accounts := make([]contractx.Account, 0, len(rows))
	for _, r := range rows {
		accounts = append(accounts, contractx.Account(r.Name))
	}
	if err := Validate(accounts); err != nil {
		return nil, err
	}

	log.Info().Str("table", s.table).Int("accounts", len(accounts)).Msg("roster: loaded from postgres")
	return accounts, nil
}
