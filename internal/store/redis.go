package store

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

const redisNamespace = "threatscan"

// RedisMetadataStore implements MetadataStore with one Redis hash per row,
// stored under "threatscan:<table>:<key>".
type RedisMetadataStore struct {
	rdb     redis.Cmdable
	closeFn func() error
}

// NewRedis connects to the Redis server at url and verifies connectivity.
func NewRedis(ctx context.Context, url string) (*RedisMetadataStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "redis: parse url")
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, eris.Wrap(err, "redis: ping")
	}
	return &RedisMetadataStore{rdb: rdb, closeFn: rdb.Close}, nil
}

func redisKey(table, key string) string {
	return redisNamespace + ":" + table + ":" + key
}

func (s *RedisMetadataStore) PutItem(ctx context.Context, table, key string, item Item) error {
	k := redisKey(table, key)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, k)
		if len(item) > 0 {
			fields := make(map[string]any, len(item))
			for f, v := range item {
				fields[f] = v
			}
			p.HSet(ctx, k, fields)
		}
		return nil
	})
	if err != nil {
		return eris.Wrapf(err, "redis: put item %s/%s", table, key)
	}
	return nil
}

func (s *RedisMetadataStore) GetItem(ctx context.Context, table, key string) (Item, error) {
	vals, err := s.rdb.HGetAll(ctx, redisKey(table, key)).Result()
	if err != nil {
		return nil, eris.Wrapf(err, "redis: get item %s/%s", table, key)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return Item(vals), nil
}

func (s *RedisMetadataStore) Scan(ctx context.Context, table string) ([]Record, error) {
	prefix := redisKey(table, "")
	var (
		out    []Record
		cursor uint64
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, prefix+"*", 200).Result()
		if err != nil {
			return nil, eris.Wrapf(err, "redis: scan %s", table)
		}
		for _, k := range keys {
			vals, err := s.rdb.HGetAll(ctx, k).Result()
			if err != nil {
				return nil, eris.Wrapf(err, "redis: read %s", k)
			}
			if len(vals) == 0 {
				continue
			}
			out = append(out, Record{Key: strings.TrimPrefix(k, prefix), Item: Item(vals)})
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

func (s *RedisMetadataStore) Close() error {
	if s.closeFn != nil {
		return s.closeFn()
	}
	return nil
}
