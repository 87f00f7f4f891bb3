package util

import (
	"fmt"
	"hash/fnv"
)

// FNV64 使用 FNV-1a 64 位哈希算法，返回 16 进制字符串
// 用作令牌指纹：缓存/吊销查找无需重新解析令牌
func FNV64(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("%x", h.Sum64())
}

// FNV32Sum returns the FNV-1a 32-bit checksum, used for shard selection.
func FNV32Sum(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
