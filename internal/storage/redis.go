package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/huntred/flowbot/internal/logger"
)

const (
	defaultRedisPrefix      = "flowbot:"
	defaultRedisDialTimeout = 5 * time.Second
)

// releaseScript deletes a slot key only while it still belongs to the holder.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisOptions configures the redis backend.
type RedisOptions struct {
	Addr        string
	Password    string
	DB          int
	Prefix      string
	DialTimeout time.Duration
}

// Redis is a Store backed by redis. States are JSON values guarded by
// WATCH/MULTI, slots are SETNX keys.
type Redis struct {
	rdb    *goredis.Client
	prefix string
	logger *zap.Logger
}

// NewRedis connects to redis and checks the connection.
func NewRedis(ctx context.Context, opts RedisOptions, log *zap.Logger) (*Redis, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultRedisDialTimeout
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: dialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}

	return &Redis{
		rdb:    rdb,
		prefix: prefix,
		logger: logger.WithFields(log, zap.String("store", "redis"), zap.String("addr", addr)),
	}, nil
}

func (r *Redis) Close() error { return r.rdb.Close() }

func (r *Redis) stateKey(k Key) string  { return r.prefix + "state:" + k.String() }
func (r *Redis) personKey(k Key) string { return r.prefix + "person:" + k.String() }
func (r *Redis) slotKey(jobID string, slot int) string {
	return r.prefix + "slot:" + jobID + ":" + strconv.Itoa(slot)
}

func (r *Redis) Load(ctx context.Context, key Key, first string) (*ChatState, error) {
	raw, err := r.rdb.Get(ctx, r.stateKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return NewChatState(key, first), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chat state %s: %w", key, err)
	}

	var state ChatState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode chat state %s: %w", key, err)
	}
	if state.Context == nil {
		state.Context = map[string]any{}
	}
	return &state, nil
}

func (r *Redis) Save(ctx context.Context, state *ChatState) error {
	k := r.stateKey(state.Key())

	next := *state
	next.Version = state.Version + 1
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode chat state %s: %w", state.Key(), err)
	}

	err = r.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		stored, err := storedVersion(ctx, tx, k)
		if err != nil {
			return err
		}
		if stored != state.Version {
			return ErrConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, k, data, 0)
			return nil
		})
		return err
	}, k)

	if errors.Is(err, goredis.TxFailedErr) {
		r.logger.Debug("chat state save lost the race", zap.String("key", k))
		return ErrConflict
	}
	if errors.Is(err, ErrConflict) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("save chat state %s: %w", state.Key(), err)
	}

	state.Version = next.Version
	return nil
}

func storedVersion(ctx context.Context, tx *goredis.Tx, k string) (int64, error) {
	raw, err := tx.Get(ctx, k).Bytes()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var head struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return 0, fmt.Errorf("decode stored version: %w", err)
	}
	return head.Version, nil
}

func (r *Redis) LoadPerson(ctx context.Context, key Key) (*Person, error) {
	raw, err := r.rdb.Get(ctx, r.personKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return &Person{Platform: key.Platform, UserID: key.UserID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get person %s: %w", key, err)
	}

	var person Person
	if err := json.Unmarshal(raw, &person); err != nil {
		return nil, fmt.Errorf("decode person %s: %w", key, err)
	}
	return &person, nil
}

func (r *Redis) SavePerson(ctx context.Context, person *Person) error {
	data, err := json.Marshal(person)
	if err != nil {
		return fmt.Errorf("encode person %s: %w", person.Key(), err)
	}
	if err := r.rdb.Set(ctx, r.personKey(person.Key()), data, 0).Err(); err != nil {
		return fmt.Errorf("save person %s: %w", person.Key(), err)
	}
	return nil
}

func (r *Redis) Book(ctx context.Context, jobID string, slot int, holder string) error {
	ok, err := r.rdb.SetNX(ctx, r.slotKey(jobID, slot), holder, 0).Result()
	if err != nil {
		return fmt.Errorf("book slot %d of job %s: %w", slot, jobID, err)
	}
	if !ok {
		return ErrSlotTaken
	}
	return nil
}

func (r *Redis) Release(ctx context.Context, jobID string, slot int, holder string) error {
	if err := releaseScript.Run(ctx, r.rdb, []string{r.slotKey(jobID, slot)}, holder).Err(); err != nil {
		return fmt.Errorf("release slot %d of job %s: %w", slot, jobID, err)
	}
	return nil
}

func (r *Redis) Booked(ctx context.Context, jobID string, n int) ([]bool, error) {
	if n <= 0 {
		return []bool{}, nil
	}

	keys := make([]string, n)
	for i := range keys {
		keys[i] = r.slotKey(jobID, i)
	}

	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list booked slots of job %s: %w", jobID, err)
	}

	out := make([]bool, n)
	for i, v := range values {
		out[i] = v != nil
	}
	return out, nil
}
