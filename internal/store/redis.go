package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"codesync/pkg/interfaces"
)

// Redis implements interfaces.Store and interfaces.Bus over a single Redis
// client. One instance is constructed at startup and injected into every
// service; nothing else in the process talks to Redis.
type Redis struct {
	client *redis.Client
}

// NewRedis connects and pings so a dead store fails startup rather than
// the first request.
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: ping %s: %v", ErrStoreUnavailable, addr, err)
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap(err)
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 0 // redis: zero means no expiry
	}
	return wrap(r.client.Set(ctx, key, value, ttl).Err())
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return wrap(r.client.Del(ctx, key).Err())
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return wrap(r.client.Expire(ctx, key, ttl).Err())
}

func (r *Redis) SetAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return wrap(r.client.SAdd(ctx, key, args...).Err())
}

func (r *Redis) SetRemove(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return wrap(r.client.SRem(ctx, key, args...).Err())
}

func (r *Redis) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, wrap(err)
	}
	return members, nil
}

func (r *Redis) SetContains(ctx context.Context, key, member string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, wrap(err)
	}
	return ok, nil
}

// ListPush prepends, trims to maxLen and refreshes the TTL in one
// pipeline, the same shape the append logs need on every write.
func (r *Redis) ListPush(ctx context.Context, key, value string, maxLen int64, ttl time.Duration) error {
	pipe := r.client.Pipeline()
	pipe.LPush(ctx, key, value)
	if maxLen > 0 {
		pipe.LTrim(ctx, key, 0, maxLen-1)
	}
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return wrap(err)
}

func (r *Redis) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := r.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, wrap(err)
	}
	return vals, nil
}

// listSetIfEqualScript guards LSET with an LINDEX compare on the server so
// concurrent LPUSHes cannot shift the write onto a different entry.
var listSetIfEqualScript = redis.NewScript(`
if redis.call("LINDEX", KEYS[1], ARGV[1]) == ARGV[2] then
	redis.call("LSET", KEYS[1], ARGV[1], ARGV[3])
	return 1
end
return 0`)

func (r *Redis) ListSetIfEqual(ctx context.Context, key string, index int64, expected, value string) (bool, error) {
	res, err := listSetIfEqualScript.Run(ctx, r.client, []string{key}, index, expected, value).Int64()
	if err != nil {
		return false, wrap(err)
	}
	return res == 1, nil
}

func (r *Redis) HashSet(ctx context.Context, key, field, value string) error {
	return wrap(r.client.HSet(ctx, key, field, value).Err())
}

func (r *Redis) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	val, err := r.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap(err)
	}
	return val, true, nil
}

func (r *Redis) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	vals, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrap(err)
	}
	return vals, nil
}

func (r *Redis) HashDelete(ctx context.Context, key string, fields ...string) error {
	return wrap(r.client.HDel(ctx, key, fields...).Err())
}

func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	return wrap(r.client.Publish(ctx, channel, payload).Err())
}

// redisSubscription adapts *redis.PubSub to interfaces.Subscription.
// Close is idempotent and safe under concurrent callers.
type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan interfaces.BusMessage
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) Messages() <-chan interfaces.BusMessage {
	return s.out
}

func (s *redisSubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
	})
	return s.pubsub.Close()
}

func (r *Redis) Subscribe(ctx context.Context, channels ...string) (interfaces.Subscription, error) {
	pubsub := r.client.Subscribe(ctx, channels...)
	// Force the SUBSCRIBE round trip so failures surface here.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, wrap(err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan interfaces.BusMessage, 256),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(sub.out)
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case sub.out <- interfaces.BusMessage{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				default:
					// Slow subscriber: drop rather than stall the bus.
					// Cross-process delivery is best-effort by contract.
				}
			case <-sub.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub, nil
}
