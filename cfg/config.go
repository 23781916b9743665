package cfg

import (
	"github.com/hatlonely/rdbx/cfg/decoder"
	"github.com/hatlonely/rdbx/cfg/provider"
	"github.com/hatlonely/rdbx/cfg/storage"
	"github.com/pkg/errors"
)

// Config 只读配置对象
type Config struct {
	storage storage.Storage
}

type ConfigOptions struct {
	Filename string `cfg:"filename" validate:"required"`
	// EnvPrefix 非空时用该前缀的环境变量覆盖文件配置
	EnvPrefix string `cfg:"envPrefix"`
	// EnvFiles 额外的 .env 文件
	EnvFiles []string `cfg:"envFiles"`
}

// NewConfig 从文件创建配置，根据扩展名选择解码器
func NewConfig(filename string) (*Config, error) {
	return NewConfigWithOptions(&ConfigOptions{Filename: filename})
}

func NewConfigWithOptions(options *ConfigOptions) (*Config, error) {
	if options == nil || options.Filename == "" {
		return nil, errors.New("filename is required")
	}

	dec, err := decoder.NewDecoderByFilename(options.Filename)
	if err != nil {
		return nil, errors.WithMessage(err, "decoder.NewDecoderByFilename failed")
	}
	fp, err := provider.NewFileProviderWithOptions(&provider.FileProviderOptions{FilePath: options.Filename})
	if err != nil {
		return nil, errors.WithMessage(err, "provider.NewFileProviderWithOptions failed")
	}
	data, err := fp.Load()
	if err != nil {
		return nil, errors.WithMessage(err, "provider.Load failed")
	}
	s, err := dec.Decode(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "decode %s failed", options.Filename)
	}

	if options.EnvPrefix != "" || len(options.EnvFiles) != 0 {
		ep, err := provider.NewEnvProviderWithOptions(&provider.EnvProviderOptions{
			Prefix:   options.EnvPrefix,
			EnvFiles: options.EnvFiles,
		})
		if err != nil {
			return nil, errors.WithMessage(err, "provider.NewEnvProviderWithOptions failed")
		}
		vars, err := ep.Vars()
		if err != nil {
			return nil, errors.WithMessage(err, "provider.Vars failed")
		}
		s = storage.NewMapStorage(storage.Overlay(s.(*storage.MapStorage).Data(), vars))
	}

	return &Config{storage: s}, nil
}

// NewConfigWithStorage 直接使用存储对象创建配置
func NewConfigWithStorage(s storage.Storage) *Config {
	return &Config{storage: s}
}

// Sub 获取子配置，key 为空时返回自身
func (c *Config) Sub(key string) *Config {
	if key == "" {
		return c
	}
	return &Config{storage: c.storage.Sub(key)}
}

func (c *Config) ConvertTo(object any) error {
	return c.storage.ConvertTo(object)
}

func (c *Config) Storage() storage.Storage {
	return c.storage
}
