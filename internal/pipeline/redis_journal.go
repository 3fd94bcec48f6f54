package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

// RedisJournal stores CBOR encoded entries in Redis under prefix+key with a
// TTL.  The TTL bounds how long a reorg can still be compensated.
type RedisJournal struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	enc    cbor.EncMode
	dec    cbor.DecMode
}

// NewRedisJournal returns a journal writing to rdb.
func NewRedisJournal(rdb *redis.Client, prefix string, ttl time.Duration) (*RedisJournal, error) {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	opts.TimeTag = cbor.EncTagRequired
	enc, err := opts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("journal: cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("journal: cbor decoder: %w", err)
	}
	return &RedisJournal{rdb: rdb, prefix: prefix, ttl: ttl, enc: enc, dec: dec}, nil
}

func (j *RedisJournal) Get(ctx context.Context, key string) (*Entry, error) {
	raw, err := j.rdb.Get(ctx, j.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal: get %s: %w", key, err)
	}
	var e Entry
	if err := j.dec.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("journal: decode %s: %w", key, err)
	}
	for i := range e.Compensate {
		e.Compensate[i].Args = normalizeArgs(e.Compensate[i].Args)
	}
	return &e, nil
}

func (j *RedisJournal) Put(ctx context.Context, key string, e Entry) error {
	raw, err := j.enc.Marshal(e)
	if err != nil {
		return fmt.Errorf("journal: encode %s: %w", key, err)
	}
	if err := j.rdb.Set(ctx, j.prefix+key, raw, j.ttl).Err(); err != nil {
		return fmt.Errorf("journal: put %s: %w", key, err)
	}
	return nil
}

func (j *RedisJournal) Delete(ctx context.Context, key string) error {
	if err := j.rdb.Del(ctx, j.prefix+key).Err(); err != nil {
		return fmt.Errorf("journal: delete %s: %w", key, err)
	}
	return nil
}

// normalizeArgs maps decoded CBOR values back to the driver types a
// Statement is built with.  CBOR has no signed/unsigned distinction for
// non-negative integers and decodes them as uint64.
func normalizeArgs(args []any) []any {
	for i, a := range args {
		switch v := a.(type) {
		case uint64:
			args[i] = int64(v)
		case time.Time:
			args[i] = v.UTC()
		}
	}
	return args
}
