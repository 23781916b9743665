package rdb

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ParamType 参数绑定类型
type ParamType int

const (
	// ParamString 未指定类型时的默认绑定类型
	ParamString ParamType = iota
	ParamInt
	ParamBool
	ParamNull
	ParamLOB
)

func (t ParamType) String() string {
	switch t {
	case ParamInt:
		return "int"
	case ParamBool:
		return "bool"
	case ParamNull:
		return "null"
	case ParamLOB:
		return "lob"
	}
	return "string"
}

const timeLayout = "2006-01-02 15:04:05"

// Param 显式指定绑定类型的参数
type Param struct {
	Value any
	Type  ParamType
}

// Bind 参数绑定列表，Args 对应问号占位符，Named 对应 :name 命名占位符
type Bind interface {
	Len() int
}

// Args 按顺序对应 ? 占位符
type Args []any

func (a Args) Len() int { return len(a) }

// Named 对应 :name 占位符
type Named map[string]any

func (n Named) Len() int { return len(n) }

func (n Named) keys() []string {
	keys := make([]string, 0, len(n))
	for k := range n {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetBindSQL 把绑定参数替换成字面量，得到便于调试的 SQL
// 这里只是按文本替换，不会解析 SQL，字符串常量中的占位符同样会被替换，结果只能用于展示
func GetBindSQL(query string, bind Bind) string {
	switch b := bind.(type) {
	case Args:
		var buf strings.Builder
		rest := query
		for _, v := range b {
			i := strings.IndexByte(rest, '?')
			if i < 0 {
				break
			}
			buf.WriteString(rest[:i])
			buf.WriteString(Quote(v))
			rest = rest[i+1:]
		}
		buf.WriteString(rest)
		return buf.String()
	case Named:
		// 末尾补一个空格，使语句结尾的 :name 也能被替换
		// 所有参数一次替换完成，已经替换进去的字面量不会被再次替换
		pairs := make([]string, 0, len(b)*4)
		for _, k := range b.keys() {
			literal := Quote(b[k])
			pairs = append(pairs, ":"+k+")", literal+")", ":"+k+" ", literal+" ")
		}
		sql := strings.NewReplacer(pairs...).Replace(query + " ")
		return sql[:len(sql)-1]
	}
	return query
}

// Quote 把值转换成 SQL 字面量
func Quote(v any) string {
	if p, ok := v.(Param); ok {
		v = p.Value
	}
	if valuer, ok := v.(driver.Valuer); ok {
		value, err := valuer.Value()
		if err != nil {
			return "NULL"
		}
		v = value
	}

	switch val := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if val {
			return "1"
		}
		return "0"
	case string:
		return quoteString(val)
	case []byte:
		return quoteString(string(val))
	case time.Time:
		return quoteString(val.Format(timeLayout))
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Ptr:
		if rv.IsNil() {
			return "NULL"
		}
		return Quote(rv.Elem().Interface())
	}
	return quoteString(fmt.Sprint(v))
}

func quoteString(s string) string {
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `''`).Replace(s) + "'"
}

// bindValue 生成真正执行的语句和参数
// 不支持命名参数的驱动把 :name 改写成 ?，pgsql 的占位符改写成 $N
func bindValue(typ string, query string, bind Bind) (string, []any, error) {
	switch b := bind.(type) {
	case nil:
		return rewritePositional(typ, query), nil, nil
	case Args:
		args := make([]any, len(b))
		for i, v := range b {
			value, err := convertParam(v)
			if err != nil {
				return "", nil, &BindParamError{Param: strconv.Itoa(i + 1), Err: err, Bind: bind}
			}
			args[i] = value
		}
		return rewritePositional(typ, query), args, nil
	case Named:
		values := make(map[string]any, len(b))
		for _, k := range b.keys() {
			value, err := convertParam(b[k])
			if err != nil {
				return "", nil, &BindParamError{Param: ":" + k, Err: err, Bind: bind}
			}
			values[k] = value
		}
		if typ == TypeSQLite {
			args := make([]any, 0, len(values))
			for _, k := range b.keys() {
				args = append(args, sql.Named(k, values[k]))
			}
			return query, args, nil
		}
		return rewriteNamed(typ, query, b, values)
	}
	return "", nil, errors.Errorf("unsupported bind type %T", bind)
}

// scanPlaceholders 跳过引号内的内容和注释，遇到 ? 或 :name 时回调
// 回调返回替换文本
// mysql 的字符串中 \ 是转义符，pgsql 按 standard_conforming_strings 处理，只认连续两个单引号的转义
func scanPlaceholders(typ string, query string, fn func(token string) (string, error)) (string, error) {
	var buf strings.Builder
	var quote byte
	escape := typ == TypeMySQL
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if quote != 0 {
			buf.WriteByte(ch)
			switch {
			case ch == '\\' && escape && quote != '`' && i+1 < len(query):
				i++
				buf.WriteByte(query[i])
			case ch == quote:
				quote = 0
			}
			continue
		}

		switch {
		case ch == '\'' || ch == '"' || ch == '`':
			quote = ch
			buf.WriteByte(ch)
		case ch == '-' && strings.HasPrefix(query[i:], "--"):
			j := strings.IndexByte(query[i:], '\n')
			if j < 0 {
				j = len(query) - i
			}
			buf.WriteString(query[i : i+j])
			i += j - 1
		case ch == '/' && strings.HasPrefix(query[i:], "/*"):
			j := strings.Index(query[i+2:], "*/")
			end := len(query)
			if j >= 0 {
				end = i + 2 + j + 2
			}
			buf.WriteString(query[i:end])
			i = end - 1
		case ch == '?':
			s, err := fn("?")
			if err != nil {
				return "", err
			}
			buf.WriteString(s)
		case ch == ':' && i+1 < len(query) && isNameStart(query[i+1]) && (i == 0 || query[i-1] != ':'):
			j := i + 1
			for j < len(query) && isNameChar(query[j]) {
				j++
			}
			s, err := fn(query[i:j])
			if err != nil {
				return "", err
			}
			buf.WriteString(s)
			i = j - 1
		default:
			buf.WriteByte(ch)
		}
	}
	return buf.String(), nil
}

func isNameStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isNameChar(ch byte) bool {
	return isNameStart(ch) || (ch >= '0' && ch <= '9')
}

func placeholder(typ string, n int) string {
	if typ == TypePgSQL {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func rewritePositional(typ string, query string) string {
	if typ != TypePgSQL {
		return query
	}
	n := 0
	sql, _ := scanPlaceholders(typ, query, func(token string) (string, error) {
		if token != "?" {
			return token, nil
		}
		n++
		return placeholder(typ, n), nil
	})
	return sql
}

func rewriteNamed(typ string, query string, bind Named, values map[string]any) (string, []any, error) {
	var args []any
	var param string
	sql, err := scanPlaceholders(typ, query, func(token string) (string, error) {
		if token == "?" {
			param = token
			return "", errors.New("positional placeholder mixed with named bindings")
		}
		value, ok := values[token[1:]]
		if !ok {
			param = token
			return "", errors.Errorf("missing binding for %s", token)
		}
		args = append(args, value)
		return placeholder(typ, len(args)), nil
	})
	if err != nil {
		return "", nil, &BindParamError{Param: param, Err: err, Bind: bind}
	}
	return sql, args, nil
}

// convertParam 按显式类型或默认的字符串类型转换参数
func convertParam(v any) (any, error) {
	typ := ParamString
	if p, ok := v.(Param); ok {
		v, typ = p.Value, p.Type
	}
	if valuer, ok := v.(driver.Valuer); ok {
		value, err := valuer.Value()
		if err != nil {
			return nil, errors.Wrap(err, "driver.Valuer failed")
		}
		v = value
	}
	if v == nil || typ == ParamNull {
		return nil, nil
	}

	switch typ {
	case ParamInt:
		return toNumber(v)
	case ParamBool:
		return toBool(v)
	case ParamLOB:
		switch val := v.(type) {
		case []byte:
			return val, nil
		case string:
			return []byte(val), nil
		}
		return nil, errors.Errorf("cannot bind %T as lob", v)
	}
	return toString(v), nil
}

func toString(v any) any {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return val
	case bool:
		if val {
			return "1"
		}
		return "0"
	case time.Time:
		return val.Format(timeLayout)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func toNumber(v any) (any, error) {
	switch val := v.(type) {
	case bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case float32:
		return float64(val), nil
	case float64:
		return val, nil
	case string:
		return parseNumber(val)
	case []byte:
		return parseNumber(string(val))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, errors.Errorf("cannot bind %d as int, out of int64 range", u)
		}
		return int64(u), nil
	}
	return nil, errors.Errorf("cannot bind %T as int", v)
}

func parseNumber(s string) (any, error) {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	return nil, errors.Errorf("cannot bind %q as int", s)
}

func toBool(v any) (any, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			return nil, errors.Errorf("cannot bind %q as bool", val)
		}
		return b, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0, nil
	}
	return nil, errors.Errorf("cannot bind %T as bool", v)
}
