package provider

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// EnvProvider 环境变量配置
// 系统环境变量优先级最低，.env 文件按顺序覆盖
type EnvProvider struct {
	envFiles []string
	prefix   string
	environ  func() []string
}

type EnvProviderOptions struct {
	EnvFiles []string `cfg:"envFiles"`
	// Prefix 只处理带该前缀的环境变量，处理时移除前缀
	Prefix string `cfg:"prefix"`
}

func NewEnvProviderWithOptions(options *EnvProviderOptions) (*EnvProvider, error) {
	if options == nil {
		options = &EnvProviderOptions{}
	}

	var envFiles []string
	for _, file := range options.EnvFiles {
		if file == "" {
			continue
		}
		absPath, err := filepath.Abs(file)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid env file path: %s", file)
		}
		envFiles = append(envFiles, absPath)
	}

	return &EnvProvider{
		envFiles: envFiles,
		prefix:   options.Prefix,
		environ:  os.Environ,
	}, nil
}

// Vars 返回移除前缀后的变量
func (p *EnvProvider) Vars() (map[string]string, error) {
	vars := map[string]string{}
	for _, env := range p.environ() {
		p.put(vars, env)
	}

	for _, envFile := range p.envFiles {
		if err := p.loadEnvFile(envFile, vars); err != nil {
			if os.IsNotExist(errors.Cause(err)) {
				continue
			}
			return nil, errors.Wrapf(err, "failed to load env file: %s", envFile)
		}
	}
	return vars, nil
}

// Load 输出 KEY=VALUE 格式，按 key 排序
func (p *EnvProvider) Load() ([]byte, error) {
	vars, err := p.Vars()
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf strings.Builder
	for _, k := range keys {
		buf.WriteString(k + "=" + vars[k] + "\n")
	}
	return []byte(buf.String()), nil
}

func (p *EnvProvider) put(vars map[string]string, line string) {
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return
	}
	key = strings.TrimSpace(key)
	if p.prefix != "" {
		if !strings.HasPrefix(key, p.prefix) {
			return
		}
		key = key[len(p.prefix):]
	}
	if key == "" {
		return
	}
	vars[key] = strings.Trim(strings.TrimSpace(value), `"'`)
}

func (p *EnvProvider) loadEnvFile(filename string, vars map[string]string) error {
	file, err := os.Open(filename)
	if err != nil {
		return errors.WithStack(err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p.put(vars, strings.TrimPrefix(line, "export "))
	}
	return errors.Wrap(scanner.Err(), "scan env file failed")
}
