// Package worker 扮演宿主运行时：为每次部署创建一个 worker 代际，
// 按事件类型（install、activate、fetch、message）分派处理，
// 并维护“当前控制客户端的代际”与“等待激活的代际”。
//
// install/activate 在进程内串行执行；fetch 事件可以任意并发，
// 只在切换控制代际时短暂持锁。
package worker
