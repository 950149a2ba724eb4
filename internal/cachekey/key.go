// Package cachekey 把图片来源标识（URL / 本地路径 / 内置资源名）映射为稳定的缓存键，
// 该键同时作为磁盘文件名与 Redis key 的一部分，因此必须跨进程重启保持不变。
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
)

// Size 是十六进制缓存键的固定长度（SHA-256，共 256 bit）。
const Size = sha256.Size * 2

// Key 是来源标识的 SHA-256 十六进制摘要。
type Key string

// Of 计算 identifier 的缓存键；纯函数，不做任何归一化。
func Of(identifier string) Key {
	sum := sha256.Sum256([]byte(identifier))
	return Key(hex.EncodeToString(sum[:]))
}

// String 返回十六进制表示。
func (k Key) String() string {
	return string(k)
}

// Shard 返回前 n 个字符，用于磁盘目录分片；n 超出长度时返回完整键。
func (k Key) Shard(n int) string {
	if n <= 0 {
		return ""
	}
	if n > len(k) {
		n = len(k)
	}
	return string(k[:n])
}

// Valid 判断 k 是否为合法的小写十六进制 SHA-256 摘要，防止外部输入拼出越界路径。
func (k Key) Valid() bool {
	if len(k) != Size {
		return false
	}
	for i := 0; i < len(k); i++ {
		c := k[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
