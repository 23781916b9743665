package decoder

import (
	"encoding/json"
	"strings"

	"github.com/hatlonely/rdbx/cfg/storage"
	"github.com/pkg/errors"
)

// JsonDecoder JSON 解码器，允许 // 和 /* */ 注释
type JsonDecoder struct{}

func NewJsonDecoder() *JsonDecoder {
	return &JsonDecoder{}
}

func (j *JsonDecoder) Decode(data []byte) (storage.Storage, error) {
	var result any
	if err := json.Unmarshal([]byte(stripComments(string(data))), &result); err != nil {
		return nil, errors.Wrap(err, "failed to decode JSON")
	}
	return storage.NewMapStorage(result), nil
}

// stripComments 去掉字符串以外的注释
func stripComments(content string) string {
	var buf strings.Builder
	inString, escaped := false, false
	for i := 0; i < len(content); i++ {
		ch := content[i]
		if inString {
			buf.WriteByte(ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			buf.WriteByte(ch)
			continue
		}
		if ch == '/' && i+1 < len(content) {
			switch content[i+1] {
			case '/':
				for i < len(content) && content[i] != '\n' {
					i++
				}
				if i < len(content) {
					buf.WriteByte('\n')
				}
				continue
			case '*':
				end := strings.Index(content[i+2:], "*/")
				if end < 0 {
					return buf.String()
				}
				i += end + 3
				continue
			}
		}
		buf.WriteByte(ch)
	}
	return buf.String()
}
