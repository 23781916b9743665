package rdb

import (
	"math/rand/v2"
	"strings"
	"sync/atomic"

	"github.com/hatlonely/rdbx/cfg"
	"github.com/hatlonely/rdbx/debug"
	"github.com/hatlonely/rdbx/kv/store"
	"github.com/hatlonely/rdbx/log"
	"github.com/hatlonely/rdbx/ref"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v3"
)

// RuntimeOptions 多个连接共享的运行时配置
type RuntimeOptions struct {
	// Name 指标名前缀和 tracer 名称
	Name   string           `cfg:"name" def:"rdb"`
	Logger *ref.TypeOptions `cfg:"logger"`
	// TableCache 表信息缓存，支持 SyncMapStore/FreeCacheStore/RedisStore，默认 SyncMapStore
	TableCache    *ref.TypeOptions `cfg:"tableCache"`
	EnableMetrics bool             `cfg:"enableMetrics"`
	EnableTracing bool             `cfg:"enableTracing"`
}

type stats struct {
	queries  atomic.Int64
	executes atomic.Int64
}

// Runtime 查询计数、监听函数、表信息缓存等进程级状态
// 测试中每个用例可以使用独立的 Runtime
type Runtime struct {
	stats    stats
	events   *Events
	tables   *TableCache
	logger   log.Logger
	metrics  *metrics
	tracer   *tracer
	registry *prometheus.Registry

	newTimer func() *debug.Timer
	intn     func(n int) int
}

func NewRuntimeWithOptions(options *RuntimeOptions) (*Runtime, error) {
	if options == nil {
		options = &RuntimeOptions{}
	}
	if options.Name == "" {
		options.Name = "rdb"
	}

	logger, err := log.NewLoggerWithOptions(options.Logger)
	if err != nil {
		return nil, errors.WithMessage(err, "log.NewLoggerWithOptions failed")
	}
	s, err := store.NewStoreWithOptions[uint64, *TableInfo](options.TableCache)
	if err != nil {
		return nil, errors.WithMessage(err, "store.NewStoreWithOptions failed")
	}

	r := &Runtime{
		events:   NewEvents(logger),
		logger:   logger,
		newTimer: debug.NewTimer,
		intn:     rand.IntN,
	}
	if options.EnableMetrics {
		r.registry = prometheus.NewRegistry()
		r.metrics = newMetrics(metricName(options.Name), r.registry)
	}
	if options.EnableTracing {
		r.tracer = newTracer(options.Name)
	}
	r.tables = NewTableCache(s, r.metrics)
	return r, nil
}

func metricName(name string) string {
	return strings.NewReplacer("-", "_", ".", "_").Replace(name)
}

// Registry 开启指标时返回指标注册表，否则为 nil
func (r *Runtime) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Runtime) Events() *Events {
	return r.events
}

func (r *Runtime) QueryTimes() int64 {
	return r.stats.queries.Load()
}

func (r *Runtime) ExecuteTimes() int64 {
	return r.stats.executes.Load()
}

func (r *Runtime) Close() error {
	return r.tables.Close()
}

// NewConnection 使用共享的运行时创建连接，不会立即建立物理连接
func NewConnection(options *Options, runtime *Runtime) (*Connection, error) {
	if runtime == nil {
		return nil, errors.New("runtime is nil")
	}
	return newConnection(options, runtime)
}

// NewConnectionWithOptions 创建一个使用独立运行时的连接
func NewConnectionWithOptions(options *Options) (*Connection, error) {
	runtime, err := NewRuntimeWithOptions(nil)
	if err != nil {
		return nil, err
	}
	return newConnection(options, runtime)
}

type ManagerOptions struct {
	// Default GetConnection("") 使用的连接名
	Default     string              `cfg:"default" def:"default"`
	Runtime     RuntimeOptions      `cfg:"runtime"`
	Connections map[string]*Options `cfg:"connections"`
}

// Manager 按名字管理连接，同一个 Manager 下的连接共享 Runtime
type Manager struct {
	options     *ManagerOptions
	runtime     *Runtime
	connections *xsync.MapOf[string, *Connection]
}

func NewManagerWithOptions(options *ManagerOptions) (*Manager, error) {
	if options == nil {
		options = &ManagerOptions{}
	}
	if options.Default == "" {
		options.Default = "default"
	}

	runtime, err := NewRuntimeWithOptions(&options.Runtime)
	if err != nil {
		return nil, errors.WithMessage(err, "NewRuntimeWithOptions failed")
	}
	return &Manager{
		options:     options,
		runtime:     runtime,
		connections: xsync.NewMapOf[string, *Connection](),
	}, nil
}

// NewManagerWithConfig 从配置创建
//
//	default: default
//	runtime:
//	  enableMetrics: true
//	connections:
//	  default:
//	    type: sqlite
//	    database: ":memory:"
func NewManagerWithConfig(c *cfg.Config) (*Manager, error) {
	var options ManagerOptions
	if err := c.ConvertTo(&options); err != nil {
		return nil, errors.WithMessage(err, "config.ConvertTo failed")
	}
	return NewManagerWithOptions(&options)
}

// GetConnection 获取名字对应的连接，name 为空时使用默认连接
// 同一个名字只创建一次连接对象
func (m *Manager) GetConnection(name string) (*Connection, error) {
	if name == "" {
		name = m.options.Default
	}
	if c, ok := m.connections.Load(name); ok {
		return c, nil
	}

	options, ok := m.options.Connections[name]
	if !ok {
		return nil, errors.Errorf("connection %q not found", name)
	}

	var err error
	c, _ := m.connections.Compute(name, func(old *Connection, loaded bool) (*Connection, bool) {
		if loaded {
			return old, false
		}
		opts := *options
		if opts.Name == "" {
			opts.Name = name
		}
		var c *Connection
		c, err = NewConnection(&opts, m.runtime)
		return c, err != nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Connect 用临时配置创建连接，连接不被 Manager 缓存，由调用方关闭
func (m *Manager) Connect(options *Options) (*Connection, error) {
	return NewConnection(options, m.runtime)
}

func (m *Manager) Runtime() *Runtime {
	return m.runtime
}

func (m *Manager) Registry() *prometheus.Registry {
	return m.runtime.registry
}

func (m *Manager) Close() error {
	var errs []string
	m.connections.Range(func(name string, c *Connection) bool {
		if err := c.Close(); err != nil {
			errs = append(errs, name+": "+err.Error())
		}
		m.connections.Delete(name)
		return true
	})
	if err := m.runtime.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) != 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
