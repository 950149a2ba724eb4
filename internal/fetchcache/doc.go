// Package fetchcache 协调缓存读取与远程获取：同一 key 在任意时刻至多只有一次获取，
// 并发请求者共享同一结果；成功的载荷写入 Store 后按有效期复用。
package fetchcache
