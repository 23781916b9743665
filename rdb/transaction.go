package rdb

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// 事务绑定在物理连接上：开启事务后，这个连接上的所有语句都在事务中执行
//
// Commit 和 Rollback 不区分嵌套层数，任何一层调用都会结束整个事务，
// StartTrans 两次之后调用一次 Commit 就会提交

// StartTrans 开启事务，已经在事务中时只增加嵌套层数
// ctx 被取消时 database/sql 会回滚事务
func (c *Connection) StartTrans(ctx context.Context) error {
	// 路由、开启事务和设置 txLink 在 txMu 下完成，并发开启的事务落在同一个连接上
	c.txMu.Lock()
	defer c.txMu.Unlock()

	link, err := c.link(ctx, true)
	if err != nil {
		return c.setError("", err)
	}

	link.mu.Lock()
	defer link.mu.Unlock()

	if link.depth == 0 {
		ctx, finish := c.runtime.tracer.start(ctx, "begin", c.options.Type, "", link.index)
		link.free()
		tx, err := link.conn.BeginTx(ctx, nil)
		finish(err)
		if err != nil {
			return c.execError("", errors.Wrap(err, "begin transaction failed"))
		}
		link.tx = tx
	}
	link.depth++

	c.mu.Lock()
	c.txLink = link
	c.mu.Unlock()
	return nil
}

// Commit 提交事务并把嵌套层数清零，没有事务时什么也不做
func (c *Connection) Commit(ctx context.Context) error {
	return c.endTrans(ctx, "commit")
}

// Rollback 回滚事务并把嵌套层数清零，没有事务时什么也不做
func (c *Connection) Rollback(ctx context.Context) error {
	return c.endTrans(ctx, "rollback")
}

func (c *Connection) endTrans(ctx context.Context, operation string) error {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	c.mu.Lock()
	link := c.txLink
	c.mu.Unlock()
	if link == nil {
		return nil
	}

	link.mu.Lock()
	defer link.mu.Unlock()

	// 提交或回滚失败之后 tx 也不能再使用，层数同样清零
	defer func() {
		link.tx = nil
		link.depth = 0
		c.mu.Lock()
		c.txLink = nil
		c.mu.Unlock()
	}()

	if link.depth == 0 || link.tx == nil {
		return nil
	}

	_, finish := c.runtime.tracer.start(ctx, operation, c.options.Type, "", link.index)
	start := time.Now()
	link.free()
	var err error
	if operation == "commit" {
		err = link.tx.Commit()
	} else {
		err = link.tx.Rollback()
	}
	c.runtime.metrics.statement(operation, err, time.Since(start))
	finish(err)
	if err != nil {
		return c.execError(c.GetLastSQL(), errors.Wrapf(err, "%s failed", operation))
	}
	return nil
}

// TransDepth 当前事务嵌套层数，没有事务时为 0
func (c *Connection) TransDepth() int {
	c.mu.Lock()
	link := c.txLink
	c.mu.Unlock()
	if link == nil {
		return 0
	}
	return link.Depth()
}

// Transaction 在事务中执行 fn，fn 返回错误时回滚
// fn 的错误只记录日志，不返回给调用方，第一个返回值表示事务是否已经提交
// 需要拿到 fn 的错误时使用 WithTx
func (c *Connection) Transaction(ctx context.Context, fn func(ctx context.Context, c *Connection) error) (bool, error) {
	bodyErr, err := c.runTx(ctx, fn)
	if bodyErr != nil {
		c.logger.ErrorContext(ctx, "transaction rollback", "error", bodyErr.Error())
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// WithTx 在事务中执行 fn，fn 返回错误或者 panic 时回滚，fn 的错误原样返回
func (c *Connection) WithTx(ctx context.Context, fn func(ctx context.Context, c *Connection) error) error {
	bodyErr, err := c.runTx(ctx, fn)
	if bodyErr != nil {
		return bodyErr
	}
	return err
}

func (c *Connection) runTx(ctx context.Context, fn func(ctx context.Context, c *Connection) error) (bodyErr error, err error) {
	if err := c.StartTrans(ctx); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			_ = c.Rollback(ctx)
			panic(r)
		}
	}()

	if bodyErr := fn(ctx, c); bodyErr != nil {
		if err := c.Rollback(ctx); err != nil {
			c.logger.ErrorContext(ctx, "rollback failed", "error", err.Error())
		}
		return bodyErr, nil
	}
	return nil, c.Commit(ctx)
}

// BatchQuery 在一个事务中依次执行语句，任何一条失败都会回滚并返回这条语句的错误
func (c *Connection) BatchQuery(ctx context.Context, sqls ...string) error {
	if err := c.StartTrans(ctx); err != nil {
		return err
	}
	for _, query := range sqls {
		if _, err := c.Execute(ctx, query, nil); err != nil {
			if rbErr := c.Rollback(ctx); rbErr != nil {
				c.logger.ErrorContext(ctx, "rollback failed", "error", rbErr.Error())
			}
			return err
		}
	}
	return c.Commit(ctx)
}
