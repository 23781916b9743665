package rdb

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrTableInfoUnavailable 多表（表名包含逗号）不获取字段信息
	ErrTableInfoUnavailable = errors.New("table info unavailable")
	ErrConnectionClosed     = errors.New("connection closed")
)

// ConfigError 路由配置自相矛盾，在建立任何连接之前返回
type ConfigError struct {
	Message string
	Options *Options
}

func (e *ConfigError) Error() string {
	return "rdb config error: " + e.Message
}

// ConnectError 建立物理连接失败且没有可用的回退配置
type ConnectError struct {
	Err     error
	Options *Options
	Server  *ServerOptions
	SQL     string
}

func (e *ConnectError) Error() string {
	msg := fmt.Sprintf("connect [%s] failed: %v", e.Server.Address(), e.Err)
	if e.SQL != "" {
		msg += "\n [ SQL ] : " + e.SQL
	}
	return msg
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ExecError 驱动在 prepare/execute/commit 阶段返回的错误
// SQL 是参数替换后的语句，只用于展示
type ExecError struct {
	Err     error
	Options *Options
	SQL     string
}

func (e *ExecError) Error() string {
	if e.SQL == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + "\n [ SQL ] : " + e.SQL
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// BindParamError 参数绑定失败，语句不会被执行
type BindParamError struct {
	Param   string
	Err     error
	Options *Options
	SQL     string
	Bind    Bind
}

func (e *BindParamError) Error() string {
	return fmt.Sprintf("error occurred when binding parameters '%s': %v\n [ SQL ] : %s", e.Param, e.Err, e.SQL)
}

func (e *BindParamError) Unwrap() error {
	return e.Err
}

// FieldError 严格字段检查模式下出现了数据表中不存在的字段
type FieldError struct {
	Table  string
	Fields []string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("fields not exists: %v in table %s", e.Fields, e.Table)
}
