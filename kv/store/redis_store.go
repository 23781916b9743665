package store

import (
	"context"
	"fmt"
	"time"

	"github.com/hatlonely/rdbx/kv/serializer"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type RedisStoreOptions struct {
	// host:port 地址
	Endpoint string `cfg:"endpoint"`
	// 集群节点的 host:port 地址列表
	Endpoints []string `cfg:"endpoints"`
	// 所有键的前缀，Clear 只删除该前缀下的键
	Prefix string `cfg:"prefix" def:"rdbx:"`
	// 默认 TTL，0 表示不过期
	DefaultTTL time.Duration `cfg:"defaultTTL"`
	// 值的序列化方式，json 或 msgpack
	ValSerializer string `cfg:"valSerializer" def:"msgpack"`

	Username     string        `cfg:"username"`
	Password     string        `cfg:"password"`
	DB           int           `cfg:"db"`
	MaxRetries   int           `cfg:"maxRetries" def:"3"`
	DialTimeout  time.Duration `cfg:"dialTimeout" def:"5s"`
	ReadTimeout  time.Duration `cfg:"readTimeout" def:"3s"`
	WriteTimeout time.Duration `cfg:"writeTimeout" def:"3s"`
	PoolSize     int           `cfg:"poolSize" def:"10"`
}

type RedisStore[K, V any] struct {
	client        redis.UniversalClient
	prefix        string
	valSerializer serializer.Serializer[V, []byte]
	defaultTTL    time.Duration
}

func NewRedisStoreWithOptions[K, V any](options *RedisStoreOptions) (*RedisStore[K, V], error) {
	valSerializer, err := serializer.NewByteSerializer[V](options.ValSerializer)
	if err != nil {
		return nil, errors.WithMessage(err, "create value serializer failed")
	}

	var client redis.UniversalClient
	if options.Endpoint != "" {
		client = redis.NewClient(&redis.Options{
			Addr:         options.Endpoint,
			Username:     options.Username,
			Password:     options.Password,
			DB:           options.DB,
			MaxRetries:   options.MaxRetries,
			DialTimeout:  options.DialTimeout,
			ReadTimeout:  options.ReadTimeout,
			WriteTimeout: options.WriteTimeout,
			PoolSize:     options.PoolSize,
		})
	} else if len(options.Endpoints) > 0 {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        options.Endpoints,
			Username:     options.Username,
			Password:     options.Password,
			MaxRetries:   options.MaxRetries,
			DialTimeout:  options.DialTimeout,
			ReadTimeout:  options.ReadTimeout,
			WriteTimeout: options.WriteTimeout,
			PoolSize:     options.PoolSize,
		})
	} else {
		return nil, errors.New("Endpoint or Endpoints must be set")
	}

	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis.client.Ping failed")
	}

	return &RedisStore[K, V]{
		client:        client,
		prefix:        options.Prefix,
		valSerializer: valSerializer,
		defaultTTL:    options.DefaultTTL,
	}, nil
}

func (s *RedisStore[K, V]) key(key K) string {
	return s.prefix + fmt.Sprint(key)
}

func (s *RedisStore[K, V]) Set(ctx context.Context, key K, value V, opts ...setOption) error {
	options := &setOptions{}
	for _, opt := range opts {
		opt(options)
	}

	buf, err := s.valSerializer.Serialize(value)
	if err != nil {
		return errors.Wrap(err, "serialize value failed")
	}

	expiration := options.Expiration
	if expiration == 0 {
		expiration = s.defaultTTL
	}

	if options.IfNotExist {
		ok, err := s.client.SetNX(ctx, s.key(key), buf, expiration).Result()
		if err != nil {
			return errors.Wrap(err, "redis.SetNX failed")
		}
		if !ok {
			return ErrConditionFailed
		}
		return nil
	}

	return errors.Wrap(s.client.Set(ctx, s.key(key), buf, expiration).Err(), "redis.Set failed")
}

func (s *RedisStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V

	buf, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return zero, ErrKeyNotFound
	}
	if err != nil {
		return zero, errors.Wrap(err, "redis.Get failed")
	}

	value, err := s.valSerializer.Deserialize(buf)
	if err != nil {
		return zero, errors.Wrap(err, "deserialize value failed")
	}
	return value, nil
}

func (s *RedisStore[K, V]) Del(ctx context.Context, key K) error {
	return errors.Wrap(s.client.Del(ctx, s.key(key)).Err(), "redis.Del failed")
}

// Clear 用 SCAN 找到前缀下的所有键再删除
func (s *RedisStore[K, V]) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return errors.Wrap(err, "redis.Scan failed")
	}
	if len(keys) == 0 {
		return nil
	}
	return errors.Wrap(s.client.Del(ctx, keys...).Err(), "redis.Del failed")
}

func (s *RedisStore[K, V]) Close() error {
	return s.client.Close()
}
