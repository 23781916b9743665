package rdb

import (
	"net"
	"reflect"
	"sort"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/hatlonely/rdbx/cfg/storage"
	"github.com/pkg/errors"
)

const (
	DeploySingle      = "single"
	DeployDistributed = "distributed"

	TypeMySQL  = "mysql"
	TypeSQLite = "sqlite"
	TypePgSQL  = "pgsql"
)

// Options 数据库连接配置
// 分布式部署时 Hostname/Hostport/Database/Username/Password/DSN/Charset 都是逗号分隔的列表，
// 按服务器序号取值，序号超出列表时取第 0 个
type Options struct {
	Name string `cfg:"name"`
	// Type 数据库类型，决定 DSN 格式、占位符风格和表结构查询方式
	Type string `cfg:"type" def:"mysql" validate:"oneof=mysql sqlite pgsql"`
	// Driver database/sql 注册的驱动名，为空时按 Type 选择
	Driver string `cfg:"driver"`

	Hostname string            `cfg:"hostname"`
	Hostport string            `cfg:"hostport"`
	Database string            `cfg:"database"`
	Username string            `cfg:"username"`
	Password string            `cfg:"password"`
	DSN      string            `cfg:"dsn"`
	Charset  string            `cfg:"charset" def:"utf8"`
	Params   map[string]string `cfg:"params"`

	// Prefix 数据表前缀
	Prefix string `cfg:"prefix"`
	// Debug 打开后记录连接日志、SQL 运行时间和 SELECT 的执行计划
	Debug bool `cfg:"debug"`

	Deploy     string `cfg:"deploy" def:"single" validate:"oneof=single distributed"`
	RWSeparate bool   `cfg:"rwSeparate"`
	// MasterNum 前 MasterNum 台服务器是主服务器
	MasterNum int `cfg:"masterNum" def:"1"`
	// SlaveNo 读写分离时指定读服务器的序号
	SlaveNo *int `cfg:"slaveNo"`

	// FieldsStrict 字段严格检查，出现不存在的字段时返回 FieldError
	FieldsStrict *bool `cfg:"fieldsStrict" def:"true"`
}

// ServerOptions 一台服务器的连接参数
type ServerOptions struct {
	Type     string
	Driver   string
	Hostname string
	Hostport string
	Database string
	Username string
	Password string
	DSN      string
	Charset  string
	Params   map[string]string
}

// normalize 复制一份配置并补全默认值
func (o *Options) normalize() (*Options, error) {
	if o == nil {
		return nil, errors.New("options is nil")
	}
	options := *o
	if err := storage.SetDefaults(&options); err != nil {
		return nil, errors.WithMessage(err, "storage.SetDefaults failed")
	}
	if err := storage.Validate(&options); err != nil {
		return nil, err
	}
	return &options, nil
}

func (o *Options) IsDistributed() bool {
	return o.Deploy == DeployDistributed
}

func (o *Options) IsFieldsStrict() bool {
	return o.FieldsStrict == nil || *o.FieldsStrict
}

// ServerNum 服务器数量，以 Hostname 列表长度为准
func (o *Options) ServerNum() int {
	if !o.IsDistributed() {
		return 1
	}
	return len(strings.Split(o.Hostname, ","))
}

// check 在不建立连接的前提下发现自相矛盾的部署配置
func (o *Options) check() error {
	if !o.IsDistributed() {
		return nil
	}
	if o.MasterNum < 1 {
		return &ConfigError{Message: "masterNum must be at least 1", Options: o}
	}
	if o.RWSeparate && o.SlaveNo == nil && o.MasterNum >= o.ServerNum() {
		return &ConfigError{Message: "rwSeparate is enabled but no slave server is configured", Options: o}
	}
	if o.SlaveNo != nil && *o.SlaveNo < 0 {
		return &ConfigError{Message: "slaveNo must not be negative", Options: o}
	}
	return nil
}

// Server 单服务器部署时直接使用原始配置
func (o *Options) Server() *ServerOptions {
	return &ServerOptions{
		Type:     o.Type,
		Driver:   o.Driver,
		Hostname: o.Hostname,
		Hostport: o.Hostport,
		Database: o.Database,
		Username: o.Username,
		Password: o.Password,
		DSN:      o.DSN,
		Charset:  o.Charset,
		Params:   o.Params,
	}
}

// At 分布式部署时第 i 台服务器的配置，各字段独立地回退到第 0 个值
func (o *Options) At(i int) *ServerOptions {
	return &ServerOptions{
		Type:     o.Type,
		Driver:   o.Driver,
		Hostname: pick(o.Hostname, i),
		Hostport: pick(o.Hostport, i),
		Database: pick(o.Database, i),
		Username: pick(o.Username, i),
		Password: pick(o.Password, i),
		DSN:      pick(o.DSN, i),
		Charset:  pick(o.Charset, i),
		Params:   o.Params,
	}
}

func pick(list string, i int) string {
	values := strings.Split(list, ",")
	if i >= 0 && i < len(values) {
		return values[i]
	}
	return values[0]
}

// attribute 按 cfg tag 读取配置项
func (o *Options) attribute(name string) (any, bool) {
	rv := reflect.ValueOf(o).Elem()
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		tag := strings.Split(rt.Field(i).Tag.Get("cfg"), ",")[0]
		if strings.EqualFold(tag, name) || strings.EqualFold(rt.Field(i).Name, name) {
			return rv.Field(i).Interface(), true
		}
	}
	return nil, false
}

// DriverName database/sql 驱动名
func (s *ServerOptions) DriverName() string {
	if s.Driver != "" {
		return s.Driver
	}
	switch s.Type {
	case TypeSQLite:
		return "sqlite3"
	case TypePgSQL:
		return "postgres"
	}
	return "mysql"
}

// Address 用于日志和错误信息的服务器地址，不包含密码
func (s *ServerOptions) Address() string {
	if s.Type == TypeSQLite {
		return s.Database
	}
	if s.Hostname == "" && s.DSN != "" {
		return s.Type
	}
	return net.JoinHostPort(s.Hostname, s.port())
}

func (s *ServerOptions) port() string {
	if s.Hostport != "" {
		return s.Hostport
	}
	switch s.Type {
	case TypePgSQL:
		return "5432"
	case TypeMySQL:
		return "3306"
	}
	return ""
}

// FormatDSN 配置了 DSN 时直接使用，否则按数据库类型生成
func (s *ServerOptions) FormatDSN() (string, error) {
	if s.DSN != "" {
		return s.DSN, nil
	}

	switch s.Type {
	case TypeMySQL:
		cfg := mysql.NewConfig()
		cfg.User = s.Username
		cfg.Passwd = s.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(s.Hostname, s.port())
		cfg.DBName = s.Database
		cfg.Params = map[string]string{}
		if s.Charset != "" {
			cfg.Params["charset"] = s.Charset
		}
		for k, v := range s.Params {
			cfg.Params[k] = v
		}
		return cfg.FormatDSN(), nil
	case TypeSQLite:
		if s.Database == "" {
			return "", errors.New("sqlite database is required")
		}
		if len(s.Params) == 0 {
			return s.Database, nil
		}
		return "file:" + s.Database + "?" + joinParams(s.Params, "=", "&", false), nil
	case TypePgSQL:
		params := map[string]string{
			"host":     s.Hostname,
			"port":     s.port(),
			"dbname":   s.Database,
			"user":     s.Username,
			"password": s.Password,
		}
		if s.Charset != "" {
			params["client_encoding"] = s.Charset
		}
		for k, v := range s.Params {
			params[k] = v
		}
		return joinParams(params, "=", " ", true), nil
	}
	return "", errors.Errorf("unsupported database type %q", s.Type)
}

func joinParams(params map[string]string, kv string, sep string, quote bool) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := params[k]
		if quote {
			v = "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v) + "'"
		}
		parts = append(parts, k+kv+v)
	}
	return strings.Join(parts, sep)
}
