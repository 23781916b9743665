package rdb

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/hatlonely/rdbx/kv/store"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// TableInfo 数据表字段信息
type TableInfo struct {
	Fields []string             `json:"fields" msgpack:"fields"`
	Type   map[string]string    `json:"type" msgpack:"type"`
	Bind   map[string]ParamType `json:"bind" msgpack:"bind"`
	PK     []string             `json:"pk" msgpack:"pk"`
}

// PrimaryKey 没有主键时返回 nil，单主键返回 string，复合主键返回 []string
func (t *TableInfo) PrimaryKey() any {
	switch len(t.PK) {
	case 0:
		return nil
	case 1:
		return t.PK[0]
	}
	return t.PK
}

// Has 是否包含字段
func (t *TableInfo) Has(field string) bool {
	_, ok := t.Type[strings.ToLower(field)]
	return ok
}

// column 表结构查询返回的一列
type column struct {
	Name    string
	Type    string
	Primary bool
}

var (
	intTypePattern  = regexp.MustCompile(`(?i)(int|double|float|decimal|real|numeric|serial)`)
	boolTypePattern = regexp.MustCompile(`(?i)bool`)
)

func inferBindType(declared string) ParamType {
	switch {
	case intTypePattern.MatchString(declared):
		return ParamInt
	case boolTypePattern.MatchString(declared):
		return ParamBool
	}
	return ParamString
}

func newTableInfo(columns []column) *TableInfo {
	info := &TableInfo{
		Fields: make([]string, 0, len(columns)),
		Type:   make(map[string]string, len(columns)),
		Bind:   make(map[string]ParamType, len(columns)),
	}
	for _, c := range columns {
		name := strings.ToLower(c.Name)
		info.Fields = append(info.Fields, name)
		info.Type[name] = c.Type
		info.Bind[name] = inferBindType(c.Type)
		if c.Primary {
			info.PK = append(info.PK, name)
		}
	}
	return info
}

// TableCache 表信息缓存，key 为表名的 xxhash
// 表信息构建完成后才写入，不会自动失效
type TableCache struct {
	store   store.Store[uint64, *TableInfo]
	group   singleflight.Group
	metrics *metrics
}

func NewTableCache(s store.Store[uint64, *TableInfo], metrics *metrics) *TableCache {
	if s == nil {
		s = store.NewSyncMapStoreWithOptions[uint64, *TableInfo]()
	}
	return &TableCache{store: s, metrics: metrics}
}

func tableKey(table string) uint64 {
	return xxhash.Sum64String(table)
}

// Get 缓存中没有时调用 describe 获取，同一张表的并发请求只查询一次
func (c *TableCache) Get(ctx context.Context, table string, describe func(ctx context.Context, table string) ([]column, error)) (*TableInfo, error) {
	if strings.Contains(table, ",") {
		return nil, ErrTableInfoUnavailable
	}

	key := tableKey(table)
	info, err := c.store.Get(ctx, key)
	if err == nil {
		c.metrics.cache(true)
		return info, nil
	}
	if !errors.Is(err, store.ErrKeyNotFound) {
		return nil, errors.WithMessage(err, "table cache get failed")
	}
	c.metrics.cache(false)

	v, err, _ := c.group.Do(strconv.FormatUint(key, 16), func() (any, error) {
		columns, err := describe(ctx, table)
		if err != nil {
			return nil, err
		}
		info := newTableInfo(columns)
		if err := c.store.Set(ctx, key, info); err != nil {
			return nil, errors.WithMessage(err, "table cache set failed")
		}
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*TableInfo), nil
}

func (c *TableCache) Del(ctx context.Context, table string) error {
	return c.store.Del(ctx, tableKey(table))
}

func (c *TableCache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

func (c *TableCache) Close() error {
	return c.store.Close()
}
