package util

import (
	"strconv"
)

// ToInt64 安全地把 interface{} 转换为 int64
// 兼容 Redis Lua 返回的 int64 / float64 / uint64 及数字字符串
func ToInt64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	case uint64:
		return int64(x), true
	case string:
		if parsed, err := strconv.ParseInt(x, 10, 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}
