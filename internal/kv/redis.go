package kv

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Redis implements Store over a Redis server using WATCH/MULTI/EXEC. A
// transaction whose watched keys changed before EXEC fails with
// redis.TxFailedErr, surfaced as ErrConflict.
type Redis struct {
	client *redis.Client
}

func NewRedis(ctx context.Context, redisURL string) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Tx(ctx context.Context, watch Watch, decide DecideFunc) error {
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		snap := Snapshot{
			records: make(map[string]map[string]int64, len(watch.Records)),
			sets:    make(map[string]map[string]struct{}, len(watch.Sets)),
		}
		for _, key := range watch.Records {
			raw, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			if len(raw) == 0 {
				continue
			}
			fields := make(map[string]int64, len(raw))
			for f, v := range raw {
				n, err := strconv.ParseInt(v, 10, 64)
				if err != nil {
					return fmt.Errorf("record %s field %s: %w", key, f, err)
				}
				fields[f] = n
			}
			snap.records[key] = fields
		}
		for _, key := range watch.Sets {
			members, err := tx.SMembers(ctx, key).Result()
			if err != nil {
				return err
			}
			set := make(map[string]struct{}, len(members))
			for _, member := range members {
				set[member] = struct{}{}
			}
			snap.sets[key] = set
		}

		write, err := decide(snap)
		if err != nil {
			return err
		}
		if write.empty() {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, op := range write.ops {
				switch op.kind {
				case opIncrField:
					pipe.HIncrBy(ctx, op.key, op.field, op.value)
				case opSetField:
					pipe.HSet(ctx, op.key, op.field, op.value)
				case opSetFields:
					args := make([]any, 0, 2*len(op.fields))
					for f, v := range op.fields {
						args = append(args, f, v)
					}
					pipe.HSet(ctx, op.key, args...)
				case opAddMember:
					pipe.SAdd(ctx, op.key, op.member)
				}
			}
			return nil
		})
		return err
	}, watch.keys()...)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (r *Redis) Field(ctx context.Context, key, field string) (int64, error) {
	raw, err := r.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("record %s field %s: %w", key, field, err)
	}
	return n, nil
}

func (r *Redis) Members(ctx context.Context, key string) ([]string, error) {
	return r.client.SMembers(ctx, key).Result()
}

func (r *Redis) Contains(ctx context.Context, key, member string) (bool, error) {
	return r.client.SIsMember(ctx, key, member).Result()
}
