package store

import (
	"context"
	"time"

	"github.com/coocood/freecache"
	"github.com/hatlonely/rdbx/kv/serializer"
	"github.com/pkg/errors"
)

type FreeCacheStoreOptions struct {
	Size          int           `cfg:"size" def:"33554432"`
	DefaultTTL    time.Duration `cfg:"defaultTTL"`
	KeySerializer string        `cfg:"keySerializer" def:"msgpack"`
	ValSerializer string        `cfg:"valSerializer" def:"msgpack"`
}

type FreeCacheStore[K, V any] struct {
	cache           *freecache.Cache
	defaultTTL      time.Duration
	keySerializer   serializer.Serializer[K, []byte]
	valueSerializer serializer.Serializer[V, []byte]
}

func NewFreeCacheStoreWithOptions[K, V any](options *FreeCacheStoreOptions) (*FreeCacheStore[K, V], error) {
	keySerializer, err := serializer.NewByteSerializer[K](options.KeySerializer)
	if err != nil {
		return nil, errors.WithMessage(err, "create key serializer failed")
	}
	valueSerializer, err := serializer.NewByteSerializer[V](options.ValSerializer)
	if err != nil {
		return nil, errors.WithMessage(err, "create value serializer failed")
	}

	size := options.Size
	if size <= 0 {
		size = 32 * 1024 * 1024
	}

	return &FreeCacheStore[K, V]{
		cache:           freecache.NewCache(size),
		defaultTTL:      options.DefaultTTL,
		keySerializer:   keySerializer,
		valueSerializer: valueSerializer,
	}, nil
}

func (s *FreeCacheStore[K, V]) Set(ctx context.Context, key K, value V, opts ...setOption) error {
	options := &setOptions{}
	for _, opt := range opts {
		opt(options)
	}

	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return errors.Wrap(err, "serialize key failed")
	}
	valueBytes, err := s.valueSerializer.Serialize(value)
	if err != nil {
		return errors.Wrap(err, "serialize value failed")
	}

	if options.IfNotExist {
		if _, err := s.cache.Get(keyBytes); err == nil {
			return ErrConditionFailed
		}
	}

	expiration := options.Expiration
	if expiration == 0 {
		expiration = s.defaultTTL
	}
	return errors.Wrap(s.cache.Set(keyBytes, valueBytes, int(expiration.Seconds())), "freecache.Set failed")
}

func (s *FreeCacheStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V

	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return zero, errors.Wrap(err, "serialize key failed")
	}

	valueBytes, err := s.cache.Get(keyBytes)
	if err != nil {
		return zero, ErrKeyNotFound
	}

	value, err := s.valueSerializer.Deserialize(valueBytes)
	if err != nil {
		return zero, errors.Wrap(err, "deserialize value failed")
	}
	return value, nil
}

func (s *FreeCacheStore[K, V]) Del(ctx context.Context, key K) error {
	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return errors.Wrap(err, "serialize key failed")
	}

	s.cache.Del(keyBytes)
	return nil
}

func (s *FreeCacheStore[K, V]) Clear(ctx context.Context) error {
	s.cache.Clear()
	return nil
}

func (s *FreeCacheStore[K, V]) Close() error {
	s.cache.Clear()
	return nil
}
