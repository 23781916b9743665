package rdb

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"github.com/go-sql-driver/mysql"
	"github.com/hatlonely/rdbx/log"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// Link 一个逻辑连接，持有一条独占的物理连接
// 同一个 Link 上的语句串行执行，事务期间所有语句都通过 tx 执行
type Link struct {
	index  int
	server *ServerOptions
	db     *sql.DB
	conn   *sql.Conn

	mu    sync.Mutex
	tx    *sql.Tx
	depth int
	stmt  *sql.Stmt
	rows  *sql.Rows
}

func (l *Link) Index() int {
	return l.index
}

func (l *Link) Server() *ServerOptions {
	return l.server
}

// Depth 当前事务嵌套层数，0 表示没有事务
func (l *Link) Depth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.depth
}

// free 释放上一条语句，调用方需持有 l.mu
func (l *Link) free() {
	if l.rows != nil {
		_ = l.rows.Close()
		l.rows = nil
	}
	if l.stmt != nil {
		_ = l.stmt.Close()
		l.stmt = nil
	}
}

func (l *Link) prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	l.free()

	var stmt *sql.Stmt
	var err error
	if l.tx != nil {
		stmt, err = l.tx.PrepareContext(ctx, query)
	} else {
		stmt, err = l.conn.PrepareContext(ctx, query)
	}
	if err != nil {
		return nil, err
	}
	l.stmt = stmt
	return stmt, nil
}

func (l *Link) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.free()
	if l.tx != nil {
		_ = l.tx.Rollback()
		l.tx = nil
		l.depth = 0
	}

	var errs []string
	if err := l.conn.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := l.db.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) != 0 {
		return errors.Errorf("close link %d failed: %s", l.index, strings.Join(errs, "; "))
	}
	return nil
}

// Pool 逻辑连接到物理连接的映射，每个序号最多建立一次连接
type Pool struct {
	options *Options
	logger  log.Logger
	metrics *metrics
	links   *xsync.MapOf[int, *Link]
	// dialing 串行化建连，保证同一个序号不会重复建连
	dialing sync.Mutex
	open    func(driverName, dsn string) (*sql.DB, error)
}

func NewPool(options *Options, logger log.Logger, metrics *metrics) *Pool {
	if logger == nil {
		logger = log.Default()
	}
	return &Pool{
		options: options,
		logger:  logger,
		metrics: metrics,
		links:   xsync.NewMapOf[int, *Link](),
		open:    sql.Open,
	}
}

// Acquire 获取序号对应的连接，没有时用 server 建立
// 建连失败且有 fallback 时，用 fallback 在同一个序号下重试一次
func (p *Pool) Acquire(ctx context.Context, index int, server *ServerOptions, fallback *ServerOptions) (*Link, error) {
	if link, ok := p.links.Load(index); ok {
		return link, nil
	}

	p.dialing.Lock()
	defer p.dialing.Unlock()
	if link, ok := p.links.Load(index); ok {
		return link, nil
	}

	link, err := p.dial(ctx, index, server)
	if err != nil {
		if fallback == nil {
			p.metrics.connect("error")
			return nil, &ConnectError{Err: err, Options: p.options, Server: server}
		}

		p.logger.ErrorContext(ctx, "connect slave failed, fallback to master",
			"index", index, "server", server.Address(), "master", fallback.Address(), "error", err.Error())
		link, err = p.dial(ctx, index, fallback)
		if err != nil {
			p.metrics.connect("error")
			return nil, &ConnectError{Err: err, Options: p.options, Server: fallback}
		}
		p.metrics.connect("fallback")
	} else {
		p.metrics.connect("ok")
	}

	p.links.Store(index, link)
	return link, nil
}

func (p *Pool) dial(ctx context.Context, index int, server *ServerOptions) (*Link, error) {
	dsn, err := server.FormatDSN()
	if err != nil {
		return nil, errors.WithMessage(err, "format dsn failed")
	}

	db, err := p.open(server.DriverName(), dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sql.Open failed")
	}
	// 每个逻辑连接只使用一条物理连接
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "db.Conn failed")
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, errors.Wrap(err, "conn.Ping failed")
	}

	if p.options.Debug {
		p.logger.InfoContext(ctx, "[ DB ] CONNECT: "+maskPassword(dsn, server.Password), "index", index)
	}
	return &Link{index: index, server: server, db: db, conn: conn}, nil
}

func maskPassword(dsn string, password string) string {
	if password == "" {
		return dsn
	}
	return strings.ReplaceAll(dsn, password, "******")
}

// Get 获取已经建立的连接
func (p *Pool) Get(index int) (*Link, bool) {
	return p.links.Load(index)
}

// Release 关闭并移除序号对应的连接，没有连接时什么也不做
func (p *Pool) Release(index int) error {
	link, ok := p.links.LoadAndDelete(index)
	if !ok {
		return nil
	}
	return link.close()
}

func (p *Pool) Len() int {
	return p.links.Size()
}

// Range 遍历已经建立的连接
func (p *Pool) Range(fn func(link *Link) bool) {
	p.links.Range(func(_ int, link *Link) bool {
		return fn(link)
	})
}

func (p *Pool) Close() error {
	var errs []string
	p.links.Range(func(index int, _ *Link) bool {
		if err := p.Release(index); err != nil {
			errs = append(errs, err.Error())
		}
		return true
	})
	if len(errs) != 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// DriverName 序号已连接时返回连接实际使用的驱动类型，否则返回配置的数据库类型
func (p *Pool) DriverName(index int) string {
	link, ok := p.links.Load(index)
	if !ok {
		return p.options.Type
	}
	switch link.db.Driver().(type) {
	case *mysql.MySQLDriver:
		return TypeMySQL
	case *sqlite3.SQLiteDriver:
		return TypeSQLite
	case *pq.Driver:
		return TypePgSQL
	}
	return p.options.Type
}
