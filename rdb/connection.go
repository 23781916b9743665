package rdb

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/hatlonely/rdbx/debug"
	"github.com/hatlonely/rdbx/log"
	"github.com/pkg/errors"
)

var (
	insertPattern = regexp.MustCompile(`(?i)^\s*(INSERT\s+INTO|REPLACE\s+INTO)\s+`)
	selectPattern = regexp.MustCompile(`(?i)^\s*SELECT\s`)
	tablePattern  = regexp.MustCompile(`__([A-Z0-9_-]+?)__`)
)

// Connection 一个数据库连接配置对应的访问入口
// 同一个 Runtime 下的多个 Connection 共享计数器、监听函数和表信息缓存
type Connection struct {
	options *Options
	runtime *Runtime
	router  *Router
	pool    *Pool
	logger  log.Logger

	// txMu 串行化事务的开启和结束，同一时刻只有一个 txLink
	txMu sync.Mutex

	mu sync.Mutex
	// txLink 开启事务的连接，事务期间所有语句都在这个连接上执行
	txLink    *Link
	current   *Link
	lastSQL   string
	lastInsID int64
	numRows   int64
	lastErr   error
	closed    bool
}

type statementOptions struct {
	fetchSQL bool
	master   bool
	rawRows  bool
}

type StatementOption func(*statementOptions)

// WithFetchSQL 只返回参数替换后的 SQL，不访问数据库
func WithFetchSQL() StatementOption {
	return func(o *statementOptions) {
		o.fetchSQL = true
	}
}

// WithMaster 读操作强制使用主服务器
func WithMaster() StatementOption {
	return func(o *statementOptions) {
		o.master = true
	}
}

// WithRawRows 返回未读取的 *sql.Rows，下一条语句执行前有效
func WithRawRows() StatementOption {
	return func(o *statementOptions) {
		o.rawRows = true
	}
}

func newConnection(raw *Options, runtime *Runtime) (*Connection, error) {
	options, err := raw.normalize()
	if err != nil {
		return nil, &ConfigError{Message: err.Error(), Options: raw}
	}
	if err := options.check(); err != nil {
		return nil, err
	}
	logger := runtime.logger
	if options.Name != "" {
		logger = logger.With("connection", options.Name)
	}
	return &Connection{
		options: options,
		runtime: runtime,
		router:  NewRouter(options, runtime.intn),
		pool:    NewPool(options, logger, runtime.metrics),
		logger:  logger,
	}, nil
}

// link 事务期间返回开启事务的连接，否则按读写意图路由
func (c *Connection) link(ctx context.Context, master bool) (*Link, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	if c.txLink != nil {
		link := c.txLink
		c.current = link
		c.mu.Unlock()
		return link, nil
	}
	c.mu.Unlock()

	route, err := c.router.Route(master)
	if err != nil {
		return nil, err
	}
	link, err := c.pool.Acquire(ctx, route.Index, route.Server, route.Fallback)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.current = link
	c.mu.Unlock()
	return link, nil
}

func (c *Connection) record(sql string, numRows int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSQL = sql
	c.numRows = numRows
	c.lastErr = err
}

func (c *Connection) setError(sql string, err error) error {
	var bindErr *BindParamError
	if errors.As(err, &bindErr) {
		bindErr.Options = c.options
		bindErr.SQL = sql
	}
	var connErr *ConnectError
	if errors.As(err, &connErr) {
		connErr.SQL = sql
	}
	c.mu.Lock()
	c.lastSQL = sql
	c.lastErr = err
	c.mu.Unlock()
	return err
}

func (c *Connection) execError(sql string, err error) error {
	return c.setError(sql, &ExecError{Err: err, Options: c.options, SQL: sql})
}

// debugBracket 调试模式下计时，并把 SQL 和执行计划交给监听函数
// end 在持有 link.mu 时调用，trigger 必须在释放 link.mu 之后调用，监听函数可以继续使用这个连接
type debugBracket struct {
	c     *Connection
	timer *debug.Timer

	done    bool
	sql     string
	elapsed float64
	plan    []Row
}

func (c *Connection) debug() *debugBracket {
	if !c.options.Debug {
		return nil
	}
	b := &debugBracket{c: c, timer: c.runtime.newTimer()}
	b.timer.Mark("queryStartTime")
	return b
}

func (b *debugBracket) end(ctx context.Context, link *Link, sql string, execSQL string, args []any, explain bool) {
	if b == nil {
		return
	}
	b.timer.Mark("queryEndTime")
	runtime := b.timer.RangeTime("queryStartTime", "queryEndTime")

	var plan []Row
	if explain && selectPattern.MatchString(execSQL) {
		var err error
		plan, err = b.c.explain(ctx, link, execSQL, args)
		if err != nil {
			b.c.logger.WarnContext(ctx, "explain failed", "sql", sql, "error", err.Error())
			plan = nil
		}
	}
	b.done, b.sql, b.elapsed, b.plan = true, sql, runtime, plan
}

// trigger 语句失败时 end 没有被调用，不触发监听函数
func (b *debugBracket) trigger(ctx context.Context) {
	if b == nil || !b.done {
		return
	}
	b.c.runtime.events.trigger(ctx, b.sql, b.elapsed, b.plan)
}

// Query 执行查询语句
func (c *Connection) Query(ctx context.Context, query string, bind Bind, opts ...StatementOption) (*QueryResult, error) {
	o := &statementOptions{}
	for _, opt := range opts {
		opt(o)
	}

	bindSQL := GetBindSQL(query, bind)
	if o.fetchSQL {
		return &QueryResult{SQL: bindSQL}, nil
	}

	execSQL, args, err := bindValue(c.options.Type, query, bind)
	if err != nil {
		return nil, c.setError(bindSQL, err)
	}
	link, err := c.link(ctx, o.master)
	if err != nil {
		return nil, c.setError(bindSQL, err)
	}

	ctx, finish := c.runtime.tracer.start(ctx, "query", c.options.Type, bindSQL, link.index)
	start := time.Now()
	result, err := c.query(ctx, link, bindSQL, execSQL, args, o.rawRows)
	c.runtime.metrics.statement("query", err, time.Since(start))
	finish(err)
	if err != nil {
		return nil, err
	}

	c.runtime.stats.queries.Add(1)
	return result, nil
}

func (c *Connection) query(ctx context.Context, link *Link, bindSQL string, execSQL string, args []any, raw bool) (*QueryResult, error) {
	var bracket *debugBracket
	defer func() { bracket.trigger(ctx) }()

	link.mu.Lock()
	defer link.mu.Unlock()

	bracket = c.debug()
	stmt, err := link.prepare(ctx, execSQL)
	if err != nil {
		return nil, c.execError(bindSQL, err)
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, c.execError(bindSQL, err)
	}

	if raw {
		link.rows = rows
		bracket.end(ctx, link, bindSQL, execSQL, args, false)
		c.record(bindSQL, 0, nil)
		return &QueryResult{SQL: bindSQL, Raw: rows}, nil
	}

	result, err := scanRows(rows)
	_ = rows.Close()
	if err != nil {
		return nil, c.execError(bindSQL, err)
	}
	bracket.end(ctx, link, bindSQL, execSQL, args, true)
	c.record(bindSQL, int64(len(result)), nil)
	return &QueryResult{SQL: bindSQL, Rows: result}, nil
}

// Execute 执行写语句，INSERT INTO / REPLACE INTO 语句记录自增 id
func (c *Connection) Execute(ctx context.Context, query string, bind Bind, opts ...StatementOption) (*ExecResult, error) {
	o := &statementOptions{}
	for _, opt := range opts {
		opt(o)
	}

	bindSQL := GetBindSQL(query, bind)
	if o.fetchSQL {
		return &ExecResult{SQL: bindSQL}, nil
	}

	execSQL, args, err := bindValue(c.options.Type, query, bind)
	if err != nil {
		return nil, c.setError(bindSQL, err)
	}
	link, err := c.link(ctx, true)
	if err != nil {
		return nil, c.setError(bindSQL, err)
	}

	ctx, finish := c.runtime.tracer.start(ctx, "execute", c.options.Type, bindSQL, link.index)
	start := time.Now()
	result, err := c.execute(ctx, link, bindSQL, execSQL, args)
	c.runtime.metrics.statement("execute", err, time.Since(start))
	finish(err)
	if err != nil {
		return nil, err
	}

	c.runtime.stats.executes.Add(1)
	return result, nil
}

func (c *Connection) execute(ctx context.Context, link *Link, bindSQL string, execSQL string, args []any) (*ExecResult, error) {
	var bracket *debugBracket
	defer func() { bracket.trigger(ctx) }()

	link.mu.Lock()
	defer link.mu.Unlock()

	bracket = c.debug()
	stmt, err := link.prepare(ctx, execSQL)
	if err != nil {
		return nil, c.execError(bindSQL, err)
	}
	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return nil, c.execError(bindSQL, err)
	}
	bracket.end(ctx, link, bindSQL, execSQL, args, false)

	result := &ExecResult{SQL: bindSQL}
	if n, err := res.RowsAffected(); err == nil {
		result.RowsAffected = n
	}
	if insertPattern.MatchString(execSQL) {
		// lib/pq 不支持 LastInsertId，需要用 RETURNING 获取
		id, err := res.LastInsertId()
		if err != nil {
			c.logger.WarnContext(ctx, "get last insert id failed", "sql", bindSQL, "error", err.Error())
		} else {
			result.LastInsertID = id
			c.mu.Lock()
			c.lastInsID = id
			c.mu.Unlock()
		}
	}
	c.record(bindSQL, result.RowsAffected, nil)
	return result, nil
}

// GetLastSQL 最近一次执行的 SQL，参数已替换
func (c *Connection) GetLastSQL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSQL
}

func (c *Connection) GetLastInsID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastInsID
}

// GetNumRows 最近一次查询返回的行数或者写语句影响的行数
func (c *Connection) GetNumRows() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.numRows
}

// GetError 最近一次语句的错误，成功时为 nil
func (c *Connection) GetError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// GetQueryTimes 同一个 Runtime 下成功的查询次数，execute 为 true 时包括写语句
func (c *Connection) GetQueryTimes(execute bool) int64 {
	n := c.runtime.stats.queries.Load()
	if execute {
		n += c.runtime.stats.executes.Load()
	}
	return n
}

func (c *Connection) GetExecuteTimes() int64 {
	return c.runtime.stats.executes.Load()
}

// Free 释放当前连接上的语句和未读取的结果集
func (c *Connection) Free() {
	c.mu.Lock()
	link := c.current
	c.mu.Unlock()
	if link == nil {
		return
	}
	link.mu.Lock()
	link.free()
	link.mu.Unlock()
}

// Close 关闭所有物理连接，未提交的事务会回滚
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.txLink = nil
	c.current = nil
	c.mu.Unlock()
	return c.pool.Close()
}

// ParseSQLTable 把 __USER_INFO__ 替换为带前缀的小写表名 prefix_user_info
func (c *Connection) ParseSQLTable(query string) string {
	return tablePattern.ReplaceAllStringFunc(query, func(m string) string {
		return c.options.Prefix + strings.ToLower(m[2:len(m)-2])
	})
}

// GetTableName 驼峰名转为带前缀的表名，UserInfo 转为 prefix_user_info
func (c *Connection) GetTableName(name string) string {
	return c.options.Prefix + snakeCase(name)
}

func snakeCase(name string) string {
	var buf strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				buf.WriteByte('_')
			}
			buf.WriteRune(unicode.ToLower(r))
			continue
		}
		buf.WriteRune(r)
	}
	return buf.String()
}

// Quote 值转为 SQL 字面量
func (c *Connection) Quote(v any) string {
	return Quote(v)
}

// GetDriverName 当前连接实际使用的数据库类型，未连接时返回配置的类型
func (c *Connection) GetDriverName() string {
	c.mu.Lock()
	link := c.current
	c.mu.Unlock()
	if link == nil {
		return c.options.Type
	}
	return c.pool.DriverName(link.index)
}

// GetAttribute 读取连接配置项，name 为 cfg 名称或者字段名
func (c *Connection) GetAttribute(name string) (any, bool) {
	return c.options.attribute(name)
}

func (c *Connection) Options() *Options {
	return c.options
}

func (c *Connection) Runtime() *Runtime {
	return c.runtime
}

// Listen 注册 SQL 监听函数，同一个 Runtime 下的连接共享
func (c *Connection) Listen(fn Listener) {
	c.runtime.events.Listen(fn)
}

// table info

func (c *Connection) GetTableInfo(ctx context.Context, table string) (*TableInfo, error) {
	table = c.ParseSQLTable(table)
	return c.runtime.tables.Get(ctx, c.tableCacheKey(table), func(ctx context.Context, _ string) ([]column, error) {
		describe, ok := describers[c.options.Type]
		if !ok {
			return nil, errors.Errorf("describe table is not supported for %s", c.options.Type)
		}
		return describe(ctx, c, table)
	})
}

// tableCacheKey 不同数据库的同名表使用不同的缓存
func (c *Connection) tableCacheKey(table string) string {
	if strings.Contains(table, ",") {
		return table
	}
	server := c.options.Server()
	if c.options.IsDistributed() {
		server = c.options.At(0)
	}
	return server.Address() + "/" + server.Database + "/" + table
}

func (c *Connection) GetTableFields(ctx context.Context, table string) ([]string, error) {
	info, err := c.GetTableInfo(ctx, table)
	if err != nil {
		return nil, err
	}
	return info.Fields, nil
}

func (c *Connection) GetFieldsType(ctx context.Context, table string) (map[string]string, error) {
	info, err := c.GetTableInfo(ctx, table)
	if err != nil {
		return nil, err
	}
	return info.Type, nil
}

func (c *Connection) GetFieldsBind(ctx context.Context, table string) (map[string]ParamType, error) {
	info, err := c.GetTableInfo(ctx, table)
	if err != nil {
		return nil, err
	}
	return info.Bind, nil
}

// GetPk 主键，见 TableInfo.PrimaryKey
func (c *Connection) GetPk(ctx context.Context, table string) (any, error) {
	info, err := c.GetTableInfo(ctx, table)
	if err != nil {
		return nil, err
	}
	return info.PrimaryKey(), nil
}

// CheckFields 严格模式下有不存在的字段时返回 FieldError，否则丢弃不存在的字段
func (c *Connection) CheckFields(ctx context.Context, table string, fields []string) ([]string, error) {
	info, err := c.GetTableInfo(ctx, table)
	if err != nil {
		return nil, err
	}

	valid := make([]string, 0, len(fields))
	var invalid []string
	for _, f := range fields {
		if info.Has(f) {
			valid = append(valid, f)
		} else {
			invalid = append(invalid, f)
		}
	}
	if len(invalid) != 0 && c.options.IsFieldsStrict() {
		return nil, &FieldError{Table: table, Fields: invalid}
	}
	return valid, nil
}

// ClearTableCache 表结构变更后清空缓存
func (c *Connection) ClearTableCache(ctx context.Context) error {
	return c.runtime.tables.Clear(ctx)
}
