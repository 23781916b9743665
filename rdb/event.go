package rdb

import (
	"context"
	"fmt"
	"sync"

	"github.com/hatlonely/rdbx/log"
	"github.com/hatlonely/rdbx/log/logger"
)

// Listener SQL 监听函数，runtime 为运行秒数，explain 为 SELECT 的执行计划
type Listener func(sql string, runtime float64, explain []Row)

// Events 监听函数列表，由同一个 Runtime 的所有连接共享
type Events struct {
	mu        sync.RWMutex
	listeners []Listener
	logger    log.Logger
}

func NewEvents(logger log.Logger) *Events {
	if logger == nil {
		logger = log.Default()
	}
	return &Events{logger: logger}
}

func (e *Events) Listen(fn Listener) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Len 已注册的监听函数数量
func (e *Events) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}

// trigger 依次通知监听函数，没有监听函数时写入 sql 级别日志
func (e *Events) trigger(ctx context.Context, sql string, runtime float64, explain []Row) {
	e.mu.RLock()
	listeners := make([]Listener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.RUnlock()

	if len(listeners) != 0 {
		for _, fn := range listeners {
			fn(sql, runtime, explain)
		}
		return
	}

	e.logger.Log(ctx, logger.LevelSQL, fmt.Sprintf("[ SQL ] %s [ RunTime:%.6fs ]", sql, runtime))
	if len(explain) != 0 {
		e.logger.Log(ctx, logger.LevelSQL, fmt.Sprintf("[ EXPLAIN : %v ]", explain))
	}
}
