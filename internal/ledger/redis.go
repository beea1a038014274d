package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	escrowKeyPrefix  = "watchdog:escrow:"
	maxTxRetries     = 10
	escrowBrandField = "brand"
	escrowValueField = "balance"
)

// RedisEscrow keeps the reserve in a Redis hash so that an external ledger
// service (or operator tooling) can inspect it. Updates use WATCH/MULTI so
// concurrent writers never observe a negative balance.
type RedisEscrow struct {
	rdb   *redis.Client
	key   string
	brand Brand
}

func NewRedisEscrow(rdb *redis.Client, holder string, brand Brand) *RedisEscrow {
	return &RedisEscrow{rdb: rdb, key: escrowKeyPrefix + holder, brand: brand}
}

func (e *RedisEscrow) Brand() Brand { return e.brand }

// Key returns the Redis hash key backing this escrow.
func (e *RedisEscrow) Key() string { return e.key }

func (e *RedisEscrow) Balance(ctx context.Context) (Amount, error) {
	raw, err := e.rdb.HGet(ctx, e.key, escrowValueField).Result()
	if errors.Is(err, redis.Nil) {
		return Amount{}, nil
	}
	if err != nil {
		return Amount{}, fmt.Errorf("escrow balance: %w", err)
	}
	return ParseAmount(raw)
}

func (e *RedisEscrow) Deposit(ctx context.Context, p Payment) error {
	if err := checkBrand(e.brand, p); err != nil {
		return err
	}
	return e.update(ctx, func(cur Amount) (Amount, error) {
		return cur.Add(p.Value), nil
	})
}

func (e *RedisEscrow) Withdraw(ctx context.Context, p Payment) error {
	if err := checkBrand(e.brand, p); err != nil {
		return err
	}
	return e.update(ctx, func(cur Amount) (Amount, error) {
		next, err := cur.Sub(p.Value)
		if err != nil {
			return Amount{}, fmt.Errorf("withdraw %s from %s: %w", p.Value, cur, ErrInsufficientReserve)
		}
		return next, nil
	})
}

func (e *RedisEscrow) update(ctx context.Context, fn func(Amount) (Amount, error)) error {
	txf := func(tx *redis.Tx) error {
		cur := Amount{}
		raw, err := tx.HGet(ctx, e.key, escrowValueField).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if cur, err = ParseAmount(raw); err != nil {
				return err
			}
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, e.key,
				escrowBrandField, string(e.brand),
				escrowValueField, next.String(),
			)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := e.rdb.Watch(ctx, txf, e.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("escrow update: too many concurrent writers on %s", e.key)
}
