package log

import (
	"github.com/hatlonely/rdbx/log/logger"
	"github.com/hatlonely/rdbx/ref"
	"github.com/pkg/errors"
)

const Namespace = "github.com/hatlonely/rdbx/log/logger"

type Logger = logger.Logger

var defaultLogger logger.Logger

func init() {
	ref.MustRegister(Namespace, "SLog", logger.NewSLogWithOptions)
	ref.MustRegister(Namespace, "ZeroLog", logger.NewZeroLogWithOptions)

	// 默认向终端输出 text 格式日志
	l, err := logger.NewSLogWithOptions(&logger.SLogOptions{
		Level:  "info",
		Format: "text",
	})
	if err != nil {
		panic("failed to initialize default logger: " + err.Error())
	}
	defaultLogger = l
}

func Default() logger.Logger {
	return defaultLogger
}

// NewLoggerWithOptions 根据 TypeOptions 创建日志器，为 nil 时返回默认日志器
func NewLoggerWithOptions(options *ref.TypeOptions) (logger.Logger, error) {
	if options == nil || options.Type == "" {
		return defaultLogger, nil
	}
	namespace := options.Namespace
	if namespace == "" {
		namespace = Namespace
	}
	l, err := ref.NewT[logger.Logger](&ref.TypeOptions{Namespace: namespace, Type: options.Type, Options: options.Options})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create logger %s", options.Type)
	}
	return l, nil
}
