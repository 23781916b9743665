package decoder

import (
	"strconv"
	"strings"

	"github.com/hatlonely/rdbx/cfg/storage"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// IniDecoder INI 解码器
// 每个 section 是一层 map，section 名中的点号表示嵌套，例如 [database.default]
type IniDecoder struct{}

func NewIniDecoder() *IniDecoder {
	return &IniDecoder{}
}

func (i *IniDecoder) Decode(data []byte) (storage.Storage, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		AllowBooleanKeys:         true,
		SpaceBeforeInlineComment: true,
	}, data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode INI")
	}

	result := map[string]any{}
	for _, section := range file.Sections() {
		current := result
		if section.Name() != ini.DefaultSection {
			for _, name := range strings.Split(section.Name(), ".") {
				next, ok := current[name].(map[string]any)
				if !ok {
					next = map[string]any{}
					current[name] = next
				}
				current = next
			}
		}
		for _, key := range section.Keys() {
			current[key.Name()] = parseIniValue(key.String())
		}
	}
	return storage.NewMapStorage(result), nil
}

func parseIniValue(value string) any {
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}
