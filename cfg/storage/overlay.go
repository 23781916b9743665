package storage

import (
	"strings"
)

// Overlay 用变量覆盖配置数据
// 变量名用双下划线表示层级，例如 DATABASE__DEFAULT__HOSTNAME
// 每一层和已有的 key 比较时忽略大小写和单下划线，所以 MASTER_NUM 可以匹配 masterNum
func Overlay(data any, vars map[string]string) any {
	root, ok := data.(map[string]any)
	if !ok {
		root = map[string]any{}
	}

	for name, value := range vars {
		path := strings.Split(name, "__")
		current := root
		for i, segment := range path {
			key := matchKey(current, segment)
			if i == len(path)-1 {
				current[key] = value
				break
			}
			next, ok := current[key].(map[string]any)
			if !ok {
				next = map[string]any{}
				current[key] = next
			}
			current = next
		}
	}
	return root
}

func normalize(key string) string {
	return strings.ToLower(strings.ReplaceAll(key, "_", ""))
}

func matchKey(m map[string]any, segment string) string {
	want := normalize(segment)
	for k := range m {
		if normalize(k) == want {
			return k
		}
	}
	return strings.ToLower(segment)
}
