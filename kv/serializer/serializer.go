package serializer

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

type Serializer[F, T any] interface {
	Serialize(from F) (T, error)
	Deserialize(to T) (F, error)
}

type codec struct {
	marshal   func(v any) ([]byte, error)
	unmarshal func(data []byte, v any) error
}

var codecs = map[string]codec{
	"msgpack": {marshal: msgpack.Marshal, unmarshal: msgpack.Unmarshal},
	"json":    {marshal: json.Marshal, unmarshal: json.Unmarshal},
}

// ByteSerializer 把缓存的 key 和 value 编码成字节
type ByteSerializer[T any] struct {
	name  string
	codec codec
}

func (s *ByteSerializer[T]) Name() string {
	return s.name
}

func (s *ByteSerializer[T]) Serialize(from T) ([]byte, error) {
	buf, err := s.codec.marshal(from)
	if err != nil {
		return nil, errors.Wrapf(err, "%s marshal failed", s.name)
	}
	return buf, nil
}

func (s *ByteSerializer[T]) Deserialize(to []byte) (T, error) {
	var result T
	if err := s.codec.unmarshal(to, &result); err != nil {
		return result, errors.Wrapf(err, "%s unmarshal failed", s.name)
	}
	return result, nil
}

// NewByteSerializer 按名字创建序列化器，名字为空时使用 msgpack
func NewByteSerializer[T any](name string) (*ByteSerializer[T], error) {
	switch name {
	case "", "MsgPackSerializer":
		name = "msgpack"
	case "JSONSerializer":
		name = "json"
	}
	c, ok := codecs[name]
	if !ok {
		return nil, errors.Errorf("unknown serializer %q", name)
	}
	return &ByteSerializer[T]{name: name, codec: c}, nil
}
