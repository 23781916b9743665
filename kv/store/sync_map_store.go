package store

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
)

type SyncMapStore[K comparable, V any] struct {
	m *xsync.MapOf[K, V]
}

func NewSyncMapStoreWithOptions[K comparable, V any]() *SyncMapStore[K, V] {
	return &SyncMapStore[K, V]{m: xsync.NewMapOf[K, V]()}
}

func (s *SyncMapStore[K, V]) Set(ctx context.Context, key K, value V, opts ...setOption) error {
	options := &setOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if options.IfNotExist {
		if _, loaded := s.m.LoadOrStore(key, value); loaded {
			return ErrConditionFailed
		}
		return nil
	}

	s.m.Store(key, value)
	return nil
}

func (s *SyncMapStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	value, ok := s.m.Load(key)
	if !ok {
		var zero V
		return zero, ErrKeyNotFound
	}
	return value, nil
}

func (s *SyncMapStore[K, V]) Del(ctx context.Context, key K) error {
	s.m.Delete(key)
	return nil
}

func (s *SyncMapStore[K, V]) Clear(ctx context.Context) error {
	s.m.Clear()
	return nil
}

func (s *SyncMapStore[K, V]) Len() int {
	return s.m.Size()
}

func (s *SyncMapStore[K, V]) Close() error {
	s.m.Clear()
	return nil
}
