package rdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hatlonely/rdbx/log"
)

// fakeDriver 记录每个 DSN 上的建连和事务次数
// DSN 包含 fail-open 时建连失败，包含 slow-begin 时开启事务前等待 50ms
// 语句包含 FAIL 时执行失败，包含 NOPLAN 时 EXPLAIN 失败
type fakeDriver struct {
	mu    sync.Mutex
	stats map[string]*fakeStats
}

type fakeStats struct {
	opens     int
	begins    int
	commits   int
	rollbacks int
	prepares  []string
}

var testDriver = &fakeDriver{stats: map[string]*fakeStats{}}

func init() {
	sql.Register("rdbfake", testDriver)
}

func (d *fakeDriver) Stats(dsn string) fakeStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.stats[dsn]; ok {
		return *s
	}
	return fakeStats{}
}

func (d *fakeDriver) update(dsn string, fn func(s *fakeStats)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.stats[dsn]
	if !ok {
		s = &fakeStats{}
		d.stats[dsn] = s
	}
	fn(s)
}

func (d *fakeDriver) Open(dsn string) (driver.Conn, error) {
	if strings.Contains(dsn, "fail-open") {
		return nil, fmt.Errorf("dial %s: connection refused", dsn)
	}
	d.update(dsn, func(s *fakeStats) { s.opens++ })
	return &fakeConn{driver: d, dsn: dsn}, nil
}

type fakeConn struct {
	driver *fakeDriver
	dsn    string
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	if strings.Contains(query, "PREPARE_FAIL") {
		return nil, fmt.Errorf("syntax error near %q", query)
	}
	c.driver.update(c.dsn, func(s *fakeStats) { s.prepares = append(s.prepares, query) })
	return &fakeStmt{query: query}, nil
}

func (c *fakeConn) Close() error {
	return nil
}

func (c *fakeConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *fakeConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if strings.Contains(c.dsn, "slow-begin") {
		time.Sleep(50 * time.Millisecond)
	}
	c.driver.update(c.dsn, func(s *fakeStats) { s.begins++ })
	return &fakeTx{conn: c}, nil
}

type fakeTx struct {
	conn *fakeConn
}

func (t *fakeTx) Commit() error {
	t.conn.driver.update(t.conn.dsn, func(s *fakeStats) { s.commits++ })
	return nil
}

func (t *fakeTx) Rollback() error {
	t.conn.driver.update(t.conn.dsn, func(s *fakeStats) { s.rollbacks++ })
	return nil
}

type fakeStmt struct {
	query string
}

func (s *fakeStmt) Close() error {
	return nil
}

func (s *fakeStmt) NumInput() int {
	return -1
}

func (s *fakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	if strings.Contains(s.query, "FAIL") {
		return nil, fmt.Errorf("exec failed: %s", s.query)
	}
	return driver.RowsAffected(1), nil
}

func (s *fakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	if strings.Contains(s.query, "FAIL") {
		return nil, fmt.Errorf("query failed: %s", s.query)
	}
	if strings.HasPrefix(s.query, "EXPLAIN") {
		if strings.Contains(s.query, "NOPLAN") {
			return nil, fmt.Errorf("explain not supported: %s", s.query)
		}
		return &fakeRows{columns: []string{"Plan"}, values: [][]driver.Value{{[]byte("SCAN t")}}}, nil
	}
	return &fakeRows{columns: []string{"ID", "Name"}, values: [][]driver.Value{{int64(1), []byte("alice")}}}, nil
}

type fakeRows struct {
	columns []string
	values  [][]driver.Value
	i       int
}

func (r *fakeRows) Columns() []string {
	return r.columns
}

func (r *fakeRows) Close() error {
	return nil
}

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.i >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.i])
	r.i++
	return nil
}

// fakeOptions 使用 fakeDriver 的单服务器配置
func fakeOptions(dsn string) *Options {
	return &Options{Type: TypeMySQL, Driver: "rdbfake", DSN: dsn}
}

// recordLogger 记录日志内容，用于检查 sql 级别的回退日志
type recordLogger struct {
	mu      sync.Mutex
	records []record
}

type record struct {
	level slog.Level
	msg   string
}

func (l *recordLogger) add(level slog.Level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, record{level: level, msg: msg})
}

func (l *recordLogger) Records() []record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]record(nil), l.records...)
}

func (l *recordLogger) Debug(msg string, args ...any) { l.add(slog.LevelDebug, msg) }
func (l *recordLogger) Info(msg string, args ...any)  { l.add(slog.LevelInfo, msg) }
func (l *recordLogger) Warn(msg string, args ...any)  { l.add(slog.LevelWarn, msg) }
func (l *recordLogger) Error(msg string, args ...any) { l.add(slog.LevelError, msg) }
func (l *recordLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.add(slog.LevelDebug, msg)
}
func (l *recordLogger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.add(slog.LevelInfo, msg)
}
func (l *recordLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.add(slog.LevelWarn, msg)
}
func (l *recordLogger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.add(slog.LevelError, msg)
}
func (l *recordLogger) Log(ctx context.Context, level slog.Level, msg string, args ...any) {
	l.add(level, msg)
}
func (l *recordLogger) With(args ...any) log.Logger      { return l }
func (l *recordLogger) WithGroup(name string) log.Logger { return l }

// newTestRuntime 使用 recordLogger 的独立运行时
func newTestRuntime() (*Runtime, *recordLogger) {
	runtime, err := NewRuntimeWithOptions(nil)
	if err != nil {
		panic(err)
	}
	logger := &recordLogger{}
	runtime.logger = logger
	runtime.events = NewEvents(logger)
	return runtime, logger
}
