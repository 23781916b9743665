package storage

import (
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

// SetDefaults 为结构体零值字段设置 def tag 中的默认值
func SetDefaults(object any) error {
	rv := reflect.ValueOf(object)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.New("object must be a non-nil pointer")
	}
	return setDefaults(rv.Elem())
}

func setDefaults(rv reflect.Value) error {
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct || rv.Type() == typeOptionsType {
		return nil
	}

	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		value := rv.Field(i)
		if !value.CanSet() {
			continue
		}

		if err := setDefaults(value); err != nil {
			return errors.WithMessagef(err, "field %s", field.Name)
		}

		def, ok := field.Tag.Lookup("def")
		if !ok || !value.IsZero() {
			continue
		}
		if value.Kind() == reflect.Ptr {
			value.Set(reflect.New(value.Type().Elem()))
			value = value.Elem()
		}
		if value.Kind() == reflect.Slice {
			if err := convertToSlice(reflect.ValueOf(def), value); err != nil {
				return errors.WithMessagef(err, "field %s", field.Name)
			}
			continue
		}
		if err := parseString(strings.TrimSpace(def), value); err != nil {
			return errors.WithMessagef(err, "invalid default value for field %s", field.Name)
		}
	}
	return nil
}

// Validate 按 validate tag 校验结构体
func Validate(object any) error {
	if err := validate.Struct(object); err != nil {
		return errors.Wrap(err, "validate failed")
	}
	return nil
}
