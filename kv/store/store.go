package store

import (
	"context"
	"time"

	"github.com/hatlonely/rdbx/ref"
	"github.com/pkg/errors"
)

var (
	ErrKeyNotFound     = errors.New("key not found")
	ErrConditionFailed = errors.New("condition failed")
)

type setOptions struct {
	Expiration time.Duration
	IfNotExist bool
}

type setOption func(*setOptions)

func WithExpiration(expiration time.Duration) setOption {
	return func(options *setOptions) {
		options.Expiration = expiration
	}
}

func WithIfNotExist() setOption {
	return func(options *setOptions) {
		options.IfNotExist = true
	}
}

type Store[K, V any] interface {
	// Set 设置键值对，WithIfNotExist 时键存在则返回 ErrConditionFailed
	Set(ctx context.Context, key K, value V, opts ...setOption) error
	// Get 获取键对应的值，键不存在时返回 ErrKeyNotFound
	Get(ctx context.Context, key K) (V, error)
	// Del 删除键，键不存在时也返回成功
	Del(ctx context.Context, key K) error
	// Clear 删除所有键
	Clear(ctx context.Context) error
	Close() error
}

// NewStoreWithOptions 根据 Type 创建存储，Type 为空时使用 SyncMapStore
// 泛型类型无法放进全局注册表，这里按名字分发
func NewStoreWithOptions[K comparable, V any](options *ref.TypeOptions) (Store[K, V], error) {
	if options == nil || options.Type == "" {
		return NewSyncMapStoreWithOptions[K, V](), nil
	}

	switch options.Type {
	case "SyncMapStore":
		return NewSyncMapStoreWithOptions[K, V](), nil
	case "FreeCacheStore":
		var storeOptions FreeCacheStoreOptions
		if err := convertOptions(options.Options, &storeOptions); err != nil {
			return nil, err
		}
		return NewFreeCacheStoreWithOptions[K, V](&storeOptions)
	case "RedisStore":
		var storeOptions RedisStoreOptions
		if err := convertOptions(options.Options, &storeOptions); err != nil {
			return nil, err
		}
		return NewRedisStoreWithOptions[K, V](&storeOptions)
	}
	return nil, errors.Errorf("unknown store type %q", options.Type)
}

func convertOptions[T any](options any, dst *T) error {
	switch v := options.(type) {
	case nil:
		return nil
	case *T:
		*dst = *v
		return nil
	case T:
		*dst = v
		return nil
	case ref.Convertable:
		return errors.WithMessage(v.ConvertTo(dst), "convert store options failed")
	}
	return errors.Errorf("unsupported store options type %T", options)
}
