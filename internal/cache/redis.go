package cache

import (
	"context"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	cacheKeyPrefix = "Cache:"
	indexKeyPrefix = "Cache:Index:"

	maxInvokeAttempts = 16
)

// ErrContention is returned by Invoke when the optimistic transaction kept
// losing to concurrent writers.
var ErrContention = errors.New("entry processor retries exhausted")

// Redis is a Service storing each named cache as one redis hash. Registered
// indexes are kept as a set next to the hash; queries always scan.
type Redis struct {
	db  *redis.Client
	log *logrus.Entry
}

// NewRedis connects to the server described by opts.
func NewRedis(opts Options, log *logrus.Entry) (*Redis, error) {
	db := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := db.Ping().Err(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "connecting to redis at %s", opts.Addr)
	}
	return NewRedisWithClient(db, log), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(db *redis.Client, log *logrus.Entry) *Redis {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Redis{db: db, log: log.WithField("backend", "redis")}
}

func hashKey(cache string) string  { return cacheKeyPrefix + cache }
func indexKey(cache string) string { return indexKeyPrefix + cache }

func (r *Redis) client(ctx context.Context) *redis.Client {
	return r.db.WithContext(ctx)
}

func (r *Redis) Get(ctx context.Context, cache, key string) ([]byte, bool, error) {
	value, err := r.client(ctx).HGet(hashKey(cache), key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (r *Redis) GetAll(ctx context.Context, cache string, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	values, err := r.client(ctx).HMGet(hashKey(cache), keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		if s, ok := v.(string); ok {
			out[keys[i]] = []byte(s)
		}
	}
	return out, nil
}

func (r *Redis) Put(ctx context.Context, cache, key string, value []byte) error {
	return r.client(ctx).HSet(hashKey(cache), key, value).Err()
}

func (r *Redis) PutAll(ctx context.Context, cache string, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(entries))
	for key, value := range entries {
		fields[key] = value
	}
	return r.client(ctx).HMSet(hashKey(cache), fields).Err()
}

func (r *Redis) Remove(ctx context.Context, cache, key string) error {
	return r.client(ctx).HDel(hashKey(cache), key).Err()
}

func (r *Redis) Clear(ctx context.Context, cache string) error {
	return r.client(ctx).Del(hashKey(cache)).Err()
}

// Invoke runs p inside a WATCH/MULTI transaction on the cache hash, retrying
// when another client modified the hash in between.
func (r *Redis) Invoke(ctx context.Context, cache, key string, p Processor) ([]byte, error) {
	hk := hashKey(cache)
	var result []byte
	txf := func(tx *redis.Tx) error {
		value, err := tx.HGet(hk, key).Bytes()
		present := true
		if err == redis.Nil {
			value, present, err = nil, false, nil
		}
		if err != nil {
			return err
		}
		entry := &Entry{Key: key, Value: value, Present: present}
		result, err = p.Process(entry)
		if err != nil || !entry.dirty {
			return err
		}
		_, err = tx.Pipelined(func(pipe redis.Pipeliner) error {
			if entry.removed {
				pipe.HDel(hk, key)
			} else {
				pipe.HSet(hk, key, entry.Value)
			}
			return nil
		})
		return err
	}

	db := r.client(ctx)
	for attempt := 0; attempt < maxInvokeAttempts; attempt++ {
		err := db.Watch(txf, hk)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, errors.Wrapf(ErrContention, "cache %s key %s", cache, key)
}

func (r *Redis) Query(ctx context.Context, cache string, f Filter) (map[string][]byte, error) {
	all, err := r.client(ctx).HGetAll(hashKey(cache)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte)
	for key, v := range all {
		value := []byte(v)
		if f.Matches(value) {
			out[key] = value
		}
	}
	return out, nil
}

func (r *Redis) Aggregate(ctx context.Context, cache string, f Filter, a Aggregator) (interface{}, error) {
	entries, err := r.Query(ctx, cache, f)
	if err != nil {
		return nil, err
	}
	return a.Aggregate(entries)
}

func (r *Redis) AddIndex(ctx context.Context, cache string, e Extractor) error {
	added, err := r.client(ctx).SAdd(indexKey(cache), string(e)).Result()
	if err != nil {
		return err
	}
	if added > 0 {
		r.log.WithFields(logrus.Fields{"cache": cache, "extractor": e}).Debug("index registered")
	}
	return nil
}

func (r *Redis) RemoveIndex(ctx context.Context, cache string, e Extractor) error {
	return r.client(ctx).SRem(indexKey(cache), string(e)).Err()
}

// Indexes lists the extractors registered on cache.
func (r *Redis) Indexes(ctx context.Context, cache string) ([]Extractor, error) {
	members, err := r.client(ctx).SMembers(indexKey(cache)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Extractor, len(members))
	for i, m := range members {
		out[i] = Extractor(m)
	}
	return out, nil
}

func (r *Redis) Close() error {
	return r.db.Close()
}
