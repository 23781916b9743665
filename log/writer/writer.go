package writer

import (
	"io"

	"github.com/hatlonely/rdbx/ref"
)

const Namespace = "github.com/hatlonely/rdbx/log/writer"

// Writer 日志输出器接口
type Writer interface {
	io.Writer
	io.Closer
}

func init() {
	ref.MustRegister(Namespace, "ConsoleWriter", NewConsoleWriterWithOptions)
	ref.MustRegister(Namespace, "FileWriter", NewFileWriterWithOptions)
	ref.MustRegister(Namespace, "MultiWriter", NewMultiWriterWithOptions)
}

// NewWriterWithOptions 根据 TypeOptions 创建输出器，Type 为空时输出到 stdout
func NewWriterWithOptions(options *ref.TypeOptions) (Writer, error) {
	if options == nil || options.Type == "" {
		return NewConsoleWriterWithOptions(nil)
	}
	namespace := options.Namespace
	if namespace == "" {
		namespace = Namespace
	}
	return ref.NewT[Writer](&ref.TypeOptions{Namespace: namespace, Type: options.Type, Options: options.Options})
}
