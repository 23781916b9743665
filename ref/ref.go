package ref

import (
	"fmt"
	"reflect"
	"sync"
)

// TypeOptions 描述一个可以通过注册表构造的组件
// Namespace + Type 定位构造函数，Options 作为构造函数的参数
type TypeOptions struct {
	Namespace string `cfg:"namespace"`
	Type      string `cfg:"type"`
	Options   any    `cfg:"options"`
}

// Convertable 配置数据可以自行转换成构造函数需要的参数类型
// cfg 包中的 Storage 实现了该接口
type Convertable interface {
	ConvertTo(object any) error
}

type constructor struct {
	fn           any
	fnValue      reflect.Value
	hasOptions   bool
	returnsError bool
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func newConstructor(fn any) (*constructor, error) {
	fnValue := reflect.ValueOf(fn)
	if fnValue.Kind() != reflect.Func {
		return nil, fmt.Errorf("constructor must be a function, got %T", fn)
	}

	fnType := fnValue.Type()
	if fnType.NumIn() > 1 {
		return nil, fmt.Errorf("constructor must have 0 or 1 input parameters, got %d", fnType.NumIn())
	}
	if fnType.NumOut() != 1 && fnType.NumOut() != 2 {
		return nil, fmt.Errorf("constructor must have 1 or 2 return values, got %d", fnType.NumOut())
	}
	if fnType.NumOut() == 2 && !fnType.Out(1).Implements(errorType) {
		return nil, fmt.Errorf("second return value must be error type")
	}

	return &constructor{
		fn:           fn,
		fnValue:      fnValue,
		hasOptions:   fnType.NumIn() == 1,
		returnsError: fnType.NumOut() == 2,
	}, nil
}

func (c *constructor) new(options any) (any, error) {
	var args []reflect.Value
	if c.hasOptions {
		param, err := c.param(options)
		if err != nil {
			return nil, err
		}
		args = append(args, param)
	}

	results := c.fnValue.Call(args)
	if c.returnsError && !results[1].IsNil() {
		return nil, results[1].Interface().(error)
	}
	return results[0].Interface(), nil
}

// param 把 options 转成构造函数的入参
// nil 时传入零值（指针类型会新建一个空对象），Convertable 时按参数类型转换
func (c *constructor) param(options any) (reflect.Value, error) {
	paramType := c.fnValue.Type().In(0)

	if options == nil {
		if paramType.Kind() == reflect.Ptr {
			return reflect.New(paramType.Elem()), nil
		}
		return reflect.Zero(paramType), nil
	}

	if convertable, ok := options.(Convertable); ok {
		target := reflect.New(paramType)
		if paramType.Kind() == reflect.Ptr {
			target = reflect.New(paramType.Elem())
		}
		if err := convertable.ConvertTo(target.Interface()); err != nil {
			return reflect.Value{}, fmt.Errorf("failed to convert options to %v: %w", paramType, err)
		}
		if paramType.Kind() == reflect.Ptr {
			return target, nil
		}
		return target.Elem(), nil
	}

	value := reflect.ValueOf(options)
	if !value.Type().AssignableTo(paramType) {
		return reflect.Value{}, fmt.Errorf("options type %v is not assignable to %v", value.Type(), paramType)
	}
	return value, nil
}

var constructors sync.Map

func key(namespace, typ string) string {
	return namespace + ":" + typ
}

// Register 注册构造函数，相同的函数重复注册会被忽略
func Register(namespace string, typ string, fn any) error {
	if v, ok := constructors.Load(key(namespace, typ)); ok {
		if reflect.ValueOf(v.(*constructor).fn).Pointer() == reflect.ValueOf(fn).Pointer() {
			return nil
		}
		return fmt.Errorf("constructor for %s:%s already registered with different function", namespace, typ)
	}

	c, err := newConstructor(fn)
	if err != nil {
		return fmt.Errorf("failed to create constructor: %w", err)
	}
	constructors.Store(key(namespace, typ), c)
	return nil
}

func MustRegister(namespace string, typ string, fn any) {
	if err := Register(namespace, typ, fn); err != nil {
		panic(err)
	}
}

// RegisterT 使用类型 T 的包路径和类型名作为 namespace 和 type 注册
func RegisterT[T any](fn any) error {
	namespace, typ, err := typeName[T]()
	if err != nil {
		return err
	}
	return Register(namespace, typ, fn)
}

func MustRegisterT[T any](fn any) {
	if err := RegisterT[T](fn); err != nil {
		panic(err)
	}
}

func New(namespace string, typ string, options any) (any, error) {
	v, ok := constructors.Load(key(namespace, typ))
	if !ok {
		return nil, fmt.Errorf("constructor not found for %s:%s", namespace, typ)
	}
	return v.(*constructor).new(options)
}

// NewT 根据 TypeOptions 构造对象，并断言成 T
func NewT[T any](options *TypeOptions) (T, error) {
	var zero T
	if options == nil {
		return zero, fmt.Errorf("type options cannot be nil")
	}

	obj, err := New(options.Namespace, options.Type, options.Options)
	if err != nil {
		return zero, err
	}
	result, ok := obj.(T)
	if !ok {
		return zero, fmt.Errorf("%s:%s created %T, not %T", options.Namespace, options.Type, obj, zero)
	}
	return result, nil
}

func typeName[T any]() (string, string, error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.PkgPath() == "" || t.Name() == "" {
		return "", "", fmt.Errorf("cannot determine package path or type name for type %v", t)
	}
	return t.PkgPath(), t.Name(), nil
}
