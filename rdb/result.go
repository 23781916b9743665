package rdb

import (
	"database/sql"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Row 一行查询结果，列名统一为小写，[]byte 转换为 string
type Row map[string]any

// QueryResult 查询结果
// WithFetchSQL 时只有 SQL，WithRawRows 时只有 Raw
type QueryResult struct {
	SQL  string
	Rows []Row
	// Raw 由调用方读取，下一条语句执行前或 Free 时关闭
	Raw *sql.Rows
}

// ExecResult 语句执行结果
type ExecResult struct {
	SQL          string
	RowsAffected int64
	// LastInsertID 只在 INSERT INTO / REPLACE INTO 语句后设置
	LastInsertID int64
}

// Scan 把第一行扫描到结构体，没有数据时返回 sql.ErrNoRows
func (r *QueryResult) Scan(dest any) error {
	if len(r.Rows) == 0 {
		return sql.ErrNoRows
	}
	return r.Rows[0].Scan(dest)
}

// ScanAll 把所有行扫描到结构体切片，dest 为 *[]T 或者 *[]*T
func (r *QueryResult) ScanAll(dest any) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Slice {
		return errors.New("dest must be a pointer to slice")
	}

	slice := rv.Elem()
	elemType := slice.Type().Elem()
	isPtr := elemType.Kind() == reflect.Ptr
	if isPtr {
		elemType = elemType.Elem()
	}

	result := reflect.MakeSlice(slice.Type(), 0, len(r.Rows))
	for i, row := range r.Rows {
		elem := reflect.New(elemType)
		if err := row.Scan(elem.Interface()); err != nil {
			return errors.WithMessagef(err, "row %d", i)
		}
		if isPtr {
			result = reflect.Append(result, elem)
		} else {
			result = reflect.Append(result, elem.Elem())
		}
	}
	slice.Set(result)
	return nil
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "rows.Columns failed")
	}
	for i := range columns {
		columns[i] = strings.ToLower(columns[i])
	}

	var result []Row
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, "rows.Scan failed")
		}

		row := make(Row, len(columns))
		for i, column := range columns {
			if b, ok := values[i].([]byte); ok {
				row[column] = string(b)
			} else {
				row[column] = values[i]
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows.Err")
	}
	return result, nil
}

// Scan 按 rdb tag 把一行数据写入结构体，没有 tag 时使用小写的字段名
func (r Row) Scan(dest any) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return errors.New("dest must be a pointer to struct")
	}

	rv = rv.Elem()
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}

		name := strings.ToLower(field.Name)
		if tag := field.Tag.Get("rdb"); tag != "" {
			name = strings.Split(tag, ",")[0]
		}
		if name == "-" {
			continue
		}

		value, ok := r[strings.ToLower(name)]
		if !ok || value == nil {
			continue
		}
		if err := setFieldValue(rv.Field(i), value); err != nil {
			return errors.WithMessagef(err, "field %s", field.Name)
		}
	}
	return nil
}

var timeFormats = []string{
	"2006-01-02 15:04:05.999999-07:00",
	time.RFC3339Nano,
	timeLayout,
	"2006-01-02",
}

func setFieldValue(field reflect.Value, value any) error {
	if field.Kind() == reflect.Ptr {
		elem := reflect.New(field.Type().Elem())
		if err := setFieldValue(elem.Elem(), value); err != nil {
			return err
		}
		field.Set(elem)
		return nil
	}

	fieldType := field.Type()
	valueType := reflect.TypeOf(value)

	if fieldType == reflect.TypeOf(time.Time{}) {
		switch v := value.(type) {
		case time.Time:
			field.Set(reflect.ValueOf(v))
			return nil
		case string:
			var lastErr error
			for _, format := range timeFormats {
				t, err := time.ParseInLocation(format, v, time.Local)
				if err == nil {
					field.Set(reflect.ValueOf(t))
					return nil
				}
				lastErr = err
			}
			return errors.Wrapf(lastErr, "cannot parse time %q", v)
		}
	}

	// mysql 的数字列可能以字符串返回
	if s, ok := value.(string); ok && field.Kind() != reflect.String {
		switch field.Kind() {
		case reflect.Bool:
			b, err := strconv.ParseBool(s)
			if err != nil {
				return errors.Wrapf(err, "cannot parse bool %q", s)
			}
			field.SetBool(b)
			return nil
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			i, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return errors.Wrapf(err, "cannot parse int %q", s)
			}
			field.SetInt(i)
			return nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			u, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				return errors.Wrapf(err, "cannot parse uint %q", s)
			}
			field.SetUint(u)
			return nil
		case reflect.Float32, reflect.Float64:
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return errors.Wrapf(err, "cannot parse float %q", s)
			}
			field.SetFloat(f)
			return nil
		}
	}

	if field.Kind() == reflect.Bool {
		switch v := value.(type) {
		case int64:
			field.SetBool(v != 0)
			return nil
		case bool:
			field.SetBool(v)
			return nil
		}
	}

	if field.Kind() == reflect.String {
		field.SetString(fmt.Sprint(value))
		return nil
	}

	if valueType.AssignableTo(fieldType) {
		field.Set(reflect.ValueOf(value))
		return nil
	}
	if valueType.ConvertibleTo(fieldType) {
		field.Set(reflect.ValueOf(value).Convert(fieldType))
		return nil
	}
	return errors.Errorf("cannot convert %v to %v", valueType, fieldType)
}
