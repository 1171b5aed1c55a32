// Package lifecycle 实现单个 worker 代际的 install/activate 状态机：
// install 把 Core Set 强制回源写入 temp 缓存，activate 依据上一份 Manifest
// 与本次 Manifest 的差异整理 content 缓存，失败时清空全部托管缓存。
//
// 同一代际的 install/activate 由宿主运行时串行触发，Controller 内部不加锁。
package lifecycle
