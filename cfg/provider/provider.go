package provider

import (
	"github.com/hatlonely/rdbx/ref"
	"github.com/pkg/errors"
)

func init() {
	ref.MustRegisterT[*FileProvider](NewFileProviderWithOptions)
	ref.MustRegisterT[*EnvProvider](NewEnvProviderWithOptions)
}

// Provider 配置数据提供者接口
// 连接一旦建立就不再变化，所以这里只需要一次性读取
type Provider interface {
	Load() (data []byte, err error)
}

func NewProviderWithOptions(options *ref.TypeOptions) (Provider, error) {
	provider, err := ref.NewT[Provider](options)
	if err != nil {
		return nil, errors.WithMessage(err, "ref.NewT failed")
	}
	return provider, nil
}
