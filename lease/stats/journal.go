package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/account-lease-bot/lease/contract"
)

var _ contractx.Recorder = (*RedisJournal)(nil)

// Entry is one journaled transition.
type Entry struct {
	Seq         uint64              `json:"seq,omitempty"`
	Op          contractx.Op        `json:"op"`
	Result      contractx.ErrorKind `json:"result"`
	Account     string              `json:"account,omitempty"`
	RequesterID string              `json:"requester_id,omitempty"`
	Held        int                 `json:"held"`
	Waiting     int                 `json:"waiting"`
	At          time.Time           `json:"at"`
}

func NewEntry(tr contractx.Transition) Entry {
	at := tr.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return Entry{
		Seq:         tr.Seq,
		Op:          tr.Op,
		Result:      contractx.KindOf(tr.Err),
		Account:     tr.Account.String(),
		RequesterID: tr.Requester.ID,
		Held:        tr.Held,
		Waiting:     tr.Waiting,
		At:          at,
	}
}

// RedisJournal keeps per-operation counters and a capped history of recent
// transitions in Redis. Writes are best effort: failures are logged and never
// reach the registry.
type RedisJournal struct {
	rdb *redis.Client

	prefix  string
	history int64
	// ttl applies to per-account counters only; totals and history persist.
	ttl time.Duration
}

// Config drives the journal options from JOURNAL_* variables.
type Config struct {
	Prefix  string        `split_words:"true" default:"leasebot:journal"`
	History int64         `split_words:"true" default:"100"`
	TTL     time.Duration `envconfig:"TTL" default:"168h"`
}

// Options converts cfg into journal options.
func (c Config) Options() []Option {
	return []Option{WithPrefix(c.Prefix), WithHistory(c.History), WithTTL(c.TTL)}
}

type Option func(*RedisJournal)

func WithPrefix(prefix string) Option {
	return func(j *RedisJournal) {
		if p := strings.Trim(strings.TrimSpace(prefix), ":"); p != "" {
			j.prefix = p
		}
	}
}

func WithHistory(n int64) Option {
	return func(j *RedisJournal) {
		if n > 0 {
			j.history = n
		}
	}
}

func WithTTL(d time.Duration) Option {
	return func(j *RedisJournal) { j.ttl = d }
}

func NewRedisJournal(rdb *redis.Client, opts ...Option) *RedisJournal {
	j := &RedisJournal{
		rdb:     rdb,
		prefix:  "leasebot:journal",
		history: 100,
		ttl:     7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *RedisJournal) totalKey() string   { return j.prefix + ":total" }
func (j *RedisJournal) historyKey() string { return j.prefix + ":history" }
func (j *RedisJournal) accountKey(acc contractx.Account) string {
	return j.prefix + ":account:" + acc.String()
}

func field(e Entry) string {
	return string(e.Op) + ":" + string(e.Result)
}

func (j *RedisJournal) Record(ctx context.Context, tr contractx.Transition) {
	if err := j.record(ctx, tr); err != nil {
		log.Warn().
			Err(err).
			Str("op", string(tr.Op)).
			Str("account", tr.Account.String()).
			Msg("stats: journal write failed")
	}
}

func (j *RedisJournal) record(ctx context.Context, tr contractx.Transition) error {
	if j == nil || j.rdb == nil {
		return nil
	}

	e := NewEntry(tr)
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}

	pipe := j.rdb.Pipeline()
	pipe.HIncrBy(ctx, j.totalKey(), field(e), 1)
	if tr.Account != "" {
		key := j.accountKey(tr.Account)
		pipe.HIncrBy(ctx, key, field(e), 1)
		if j.ttl > 0 {
			pipe.Expire(ctx, key, j.ttl)
		}
	}
	pipe.LPush(ctx, j.historyKey(), payload)
	pipe.LTrim(ctx, j.historyKey(), 0, j.history-1)

	_, err = pipe.Exec(ctx)
	return err
}

// Recent returns up to n entries, newest first by arrival. Entries written by
// overlapping operations may arrive out of Seq order.
func (j *RedisJournal) Recent(ctx context.Context, n int64) ([]Entry, error) {
	if j == nil || j.rdb == nil {
		return nil, nil
	}
	if n <= 0 || n > j.history {
		n = j.history
	}

	raw, err := j.rdb.LRange(ctx, j.historyKey(), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read journal history: %w", err)
	}

	out := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("decode journal entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Totals returns the cumulative "op:result" counters.
func (j *RedisJournal) Totals(ctx context.Context) (map[string]int64, error) {
	if j == nil || j.rdb == nil {
		return map[string]int64{}, nil
	}
	raw, err := j.rdb.HGetAll(ctx, j.totalKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("read journal totals: %w", err)
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		var n int64
		if _, err := fmt.Sscan(v, &n); err != nil {
			return nil, fmt.Errorf("decode journal total %s: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}
