package storage

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hatlonely/rdbx/ref"
	"github.com/pkg/errors"
)

var (
	durationType    = reflect.TypeOf(time.Duration(0))
	typeOptionsType = reflect.TypeOf(ref.TypeOptions{})
	validate        = validator.New()
)

// MapStorage 基于 map 和 slice 的存储实现
type MapStorage struct {
	data any
}

func NewMapStorage(data any) *MapStorage {
	return &MapStorage{data: data}
}

// Data 获取存储的原始数据
func (ms *MapStorage) Data() any {
	return ms.data
}

func (ms *MapStorage) Sub(key string) Storage {
	if key == "" {
		return ms
	}

	current := ms.data
	for _, k := range parseKey(key) {
		current = valueByKey(current, k)
		if current == nil {
			break
		}
	}
	return NewMapStorage(current)
}

func (ms *MapStorage) ConvertTo(object any) error {
	rv := reflect.ValueOf(object)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.New("object must be a non-nil pointer")
	}
	// 默认值先于配置数据设置，显式配置的零值（例如 false）不会被默认值覆盖
	if err := setDefaults(rv.Elem()); err != nil {
		return err
	}
	if err := convertValue(ms.data, rv.Elem()); err != nil {
		return err
	}
	if rv.Elem().Kind() == reflect.Struct {
		if err := validate.Struct(object); err != nil {
			return errors.Wrap(err, "validate failed")
		}
	}
	return nil
}

// parseKey 解析 key 字符串，支持点号和数组索引
func parseKey(key string) []string {
	var keys []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			keys = append(keys, current.String())
			current.Reset()
		}
	}
	for _, ch := range key {
		switch ch {
		case '.', '[', ']':
			flush()
		default:
			current.WriteRune(ch)
		}
	}
	flush()
	return keys
}

func valueByKey(data any, key string) any {
	rv := reflect.ValueOf(data)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		for _, k := range rv.MapKeys() {
			if fmt.Sprint(k.Interface()) == key {
				return rv.MapIndex(k).Interface()
			}
		}
	case reflect.Slice, reflect.Array:
		index, err := strconv.Atoi(key)
		if err != nil || index < 0 || index >= rv.Len() {
			return nil
		}
		return rv.Index(index).Interface()
	}
	return nil
}

func convertValue(src any, dst reflect.Value) error {
	if src == nil {
		return nil
	}
	if s, ok := src.(*MapStorage); ok {
		return convertValue(s.data, dst)
	}

	if dst.Kind() == reflect.Ptr {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		return convertValue(src, dst.Elem())
	}

	srcValue := reflect.ValueOf(src)
	if srcValue.Type().AssignableTo(dst.Type()) && dst.Kind() != reflect.Struct {
		dst.Set(srcValue)
		return nil
	}

	switch dst.Kind() {
	case reflect.Interface:
		if dst.Type().NumMethod() == 0 {
			dst.Set(srcValue)
			return nil
		}
	case reflect.Struct:
		if dst.Type() == typeOptionsType {
			return convertToTypeOptions(srcValue, dst)
		}
		return convertToStruct(srcValue, dst)
	case reflect.Map:
		return convertToMap(srcValue, dst)
	case reflect.Slice:
		return convertToSlice(srcValue, dst)
	}

	return convertScalar(srcValue, dst)
}

// convertToTypeOptions options 保持为 Storage，由 ref 在构造时转换为构造函数的参数类型
func convertToTypeOptions(src reflect.Value, dst reflect.Value) error {
	if src.Kind() != reflect.Map {
		return errors.Errorf("cannot convert %v to ref.TypeOptions", src.Type())
	}
	options := ref.TypeOptions{}
	storage := NewMapStorage(src.Interface())
	options.Namespace = fmt.Sprint(orEmpty(valueByKey(src.Interface(), "namespace")))
	options.Type = fmt.Sprint(orEmpty(valueByKey(src.Interface(), "type")))
	if sub := storage.Sub("options"); sub.(*MapStorage).data != nil {
		options.Options = sub
	}
	dst.Set(reflect.ValueOf(options))
	return nil
}

func orEmpty(v any) any {
	if v == nil {
		return ""
	}
	return v
}

func fieldKey(field reflect.StructField) string {
	if tag := field.Tag.Get("cfg"); tag != "" {
		return strings.Split(tag, ",")[0]
	}
	return field.Name
}

func convertToStruct(src reflect.Value, dst reflect.Value) error {
	if src.Kind() != reflect.Map {
		return errors.Errorf("cannot convert %v to %v", src.Type(), dst.Type())
	}

	if err := setDefaults(dst); err != nil {
		return err
	}

	dstType := dst.Type()
	for i := 0; i < dstType.NumField(); i++ {
		field := dstType.Field(i)
		if !field.IsExported() {
			continue
		}
		name := fieldKey(field)
		if name == "-" {
			continue
		}

		var value any
		for _, k := range src.MapKeys() {
			if strings.EqualFold(fmt.Sprint(k.Interface()), name) {
				value = src.MapIndex(k).Interface()
				break
			}
		}
		if value == nil {
			continue
		}
		if err := convertValue(value, dst.Field(i)); err != nil {
			return errors.WithMessagef(err, "field %s", name)
		}
	}
	return nil
}

func convertToMap(src reflect.Value, dst reflect.Value) error {
	if src.Kind() != reflect.Map {
		return errors.Errorf("cannot convert %v to %v", src.Type(), dst.Type())
	}
	if dst.IsNil() {
		dst.Set(reflect.MakeMap(dst.Type()))
	}
	for _, k := range src.MapKeys() {
		key := reflect.New(dst.Type().Key()).Elem()
		if err := convertScalar(reflect.ValueOf(fmt.Sprint(k.Interface())), key); err != nil {
			return err
		}
		value := reflect.New(dst.Type().Elem()).Elem()
		if err := convertValue(src.MapIndex(k).Interface(), value); err != nil {
			return errors.WithMessagef(err, "key %v", k.Interface())
		}
		dst.SetMapIndex(key, value)
	}
	return nil
}

func convertToSlice(src reflect.Value, dst reflect.Value) error {
	// 逗号分隔的字符串也可以转换成切片
	if src.Kind() == reflect.String {
		parts := strings.Split(src.String(), ",")
		items := make([]any, len(parts))
		for i, p := range parts {
			items[i] = strings.TrimSpace(p)
		}
		src = reflect.ValueOf(items)
	}
	if src.Kind() != reflect.Slice && src.Kind() != reflect.Array {
		return errors.Errorf("cannot convert %v to %v", src.Type(), dst.Type())
	}
	slice := reflect.MakeSlice(dst.Type(), src.Len(), src.Len())
	for i := 0; i < src.Len(); i++ {
		if err := convertValue(src.Index(i).Interface(), slice.Index(i)); err != nil {
			return errors.WithMessagef(err, "index %d", i)
		}
	}
	dst.Set(slice)
	return nil
}

// convertScalar 标量转换，字符串按目标类型解析
func convertScalar(src reflect.Value, dst reflect.Value) error {
	if dst.Type() == durationType {
		switch src.Kind() {
		case reflect.String:
			d, err := time.ParseDuration(src.String())
			if err != nil {
				return errors.Wrapf(err, "failed to parse duration %q", src.String())
			}
			dst.SetInt(int64(d))
			return nil
		case reflect.Float32, reflect.Float64:
			dst.SetInt(int64(src.Float() * float64(time.Second)))
			return nil
		}
	}

	if src.Kind() == reflect.String {
		return parseString(src.String(), dst)
	}

	if dst.Kind() == reflect.String {
		dst.SetString(fmt.Sprint(src.Interface()))
		return nil
	}

	if src.Type().ConvertibleTo(dst.Type()) && isNumberOrBool(src.Kind()) == isNumberOrBool(dst.Kind()) {
		dst.Set(src.Convert(dst.Type()))
		return nil
	}
	return errors.Errorf("cannot convert %v to %v", src.Type(), dst.Type())
}

func isNumberOrBool(kind reflect.Kind) bool {
	switch kind {
	case reflect.Bool, reflect.String:
		return false
	}
	return kind >= reflect.Int && kind <= reflect.Float64
}

func parseString(s string, dst reflect.Value) error {
	switch dst.Kind() {
	case reflect.String:
		dst.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return errors.Wrapf(err, "failed to parse bool %q", s)
		}
		dst.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if dst.Type() == durationType {
			d, err := time.ParseDuration(s)
			if err != nil {
				return errors.Wrapf(err, "failed to parse duration %q", s)
			}
			dst.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "failed to parse int %q", s)
		}
		dst.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "failed to parse uint %q", s)
		}
		dst.SetUint(u)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return errors.Wrapf(err, "failed to parse float %q", s)
		}
		dst.SetFloat(f)
	case reflect.Interface:
		dst.Set(reflect.ValueOf(s))
	default:
		return errors.Errorf("cannot convert string to %v", dst.Type())
	}
	return nil
}
