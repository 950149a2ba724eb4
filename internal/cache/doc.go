// Package cache 定义图片载荷的持久化存储：以 cachekey.Key 寻址，按
// StoragePath/<key[:2]>/<key> 布局写入磁盘（临时文件 + rename 保证原子性），
// 每个文件以帧头记录写入时间与过期时间，读取时过期条目视为不存在。
// 包内同时提供 ristretto 内存层与 Redis 后端，二者实现同一个 Store 接口，
// 上层的 fetchcache 只依赖该接口完成“命中 → 回源 → 写缓存”。
package cache
