package funding

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	AttemptsKeyFmt   = "watchdog:attempts:%s"    // LIST, newest first
	DepositDLQKeyFmt = "watchdog:deposit:dlq:%s" // LIST of attempts needing reconciliation

	DefaultJournalLimit = 100
)

// Journal keeps a record of funding attempts.
type Journal interface {
	Record(ctx context.Context, a *Attempt) error
	// DeadLetter stores an attempt whose funds left escrow but are not known
	// to have reached the deployment.
	DeadLetter(ctx context.Context, a *Attempt) error
	Recent(ctx context.Context, n int64) ([]Attempt, error)
}

// RedisJournal keeps a capped list of attempts per deployment.
type RedisJournal struct {
	rdb     *redis.Client
	attempt string
	dlq     string
	limit   int64
}

var _ Journal = (*RedisJournal)(nil)

func NewRedisJournal(rdb *redis.Client, deploymentID string, limit int64) *RedisJournal {
	if limit <= 0 {
		limit = DefaultJournalLimit
	}
	return &RedisJournal{
		rdb:     rdb,
		attempt: fmt.Sprintf(AttemptsKeyFmt, deploymentID),
		dlq:     fmt.Sprintf(DepositDLQKeyFmt, deploymentID),
		limit:   limit,
	}
}

func (j *RedisJournal) Record(ctx context.Context, a *Attempt) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}
	pipe := j.rdb.TxPipeline()
	pipe.LPush(ctx, j.attempt, string(raw))
	pipe.LTrim(ctx, j.attempt, 0, j.limit-1)
	_, err = pipe.Exec(ctx)
	return err
}

func (j *RedisJournal) DeadLetter(ctx context.Context, a *Attempt) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}
	return j.rdb.RPush(ctx, j.dlq, string(raw)).Err()
}

func (j *RedisJournal) Recent(ctx context.Context, n int64) ([]Attempt, error) {
	if n <= 0 {
		return nil, nil
	}
	items, err := j.rdb.LRange(ctx, j.attempt, 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Attempt, 0, len(items))
	for _, raw := range items {
		var a Attempt
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// NopJournal discards everything.
type NopJournal struct{}

func (NopJournal) Record(context.Context, *Attempt) error { return nil }
func (NopJournal) DeadLetter(context.Context, *Attempt) error { return nil }
func (NopJournal) Recent(context.Context, int64) ([]Attempt, error) { return nil, nil }
