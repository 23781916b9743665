package decoder

import (
	"path/filepath"
	"strings"

	"github.com/hatlonely/rdbx/cfg/storage"
	"github.com/hatlonely/rdbx/ref"
	"github.com/pkg/errors"
)

func init() {
	ref.MustRegisterT[*JsonDecoder](NewJsonDecoder)
	ref.MustRegisterT[*YamlDecoder](NewYamlDecoder)
	ref.MustRegisterT[*TomlDecoder](NewTomlDecoder)
	ref.MustRegisterT[*IniDecoder](NewIniDecoder)
}

// Decoder 把原始配置数据解码为存储对象
type Decoder interface {
	Decode(data []byte) (storage.Storage, error)
}

func NewDecoderWithOptions(options *ref.TypeOptions) (Decoder, error) {
	decoder, err := ref.NewT[Decoder](options)
	if err != nil {
		return nil, errors.WithMessage(err, "ref.NewT failed")
	}
	return decoder, nil
}

// NewDecoderByFilename 根据文件扩展名选择解码器
func NewDecoderByFilename(filename string) (Decoder, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json", ".json5":
		return NewJsonDecoder(), nil
	case ".yaml", ".yml":
		return NewYamlDecoder(), nil
	case ".toml":
		return NewTomlDecoder(), nil
	case ".ini", ".conf":
		return NewIniDecoder(), nil
	}
	return nil, errors.Errorf("unsupported config file extension %q", filepath.Ext(filename))
}
