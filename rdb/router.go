package rdb

import (
	"math/rand/v2"
)

// Route 一次路由的结果
// Fallback 不为空时表示选中的是从服务器，连接失败后用主服务器配置重试
type Route struct {
	Index    int
	Server   *ServerOptions
	Fallback *ServerOptions
}

// Router 按部署方式和读写意图选择服务器
type Router struct {
	options *Options
	intn    func(n int) int
}

// NewRouter intn 返回 [0, n) 之间的随机数，为 nil 时使用 math/rand
func NewRouter(options *Options, intn func(n int) int) *Router {
	if intn == nil {
		intn = rand.IntN
	}
	return &Router{options: options, intn: intn}
}

// Route master 为 true 表示写操作或者强制读主库
func (r *Router) Route(master bool) (*Route, error) {
	o := r.options
	if !o.IsDistributed() {
		return &Route{Index: 0, Server: o.Server()}, nil
	}
	if err := o.check(); err != nil {
		return nil, err
	}

	total := o.ServerNum()
	m := r.intn(o.MasterNum)

	var n int
	switch {
	case !o.RWSeparate:
		// 读写操作不区分服务器
		n = r.intn(total)
	case master:
		n = m
	case o.SlaveNo != nil:
		n = *o.SlaveNo
	default:
		n = o.MasterNum + r.intn(total-o.MasterNum)
	}

	route := &Route{Index: n, Server: o.At(n)}
	if n != m {
		route.Fallback = o.At(m)
	}
	return route, nil
}
