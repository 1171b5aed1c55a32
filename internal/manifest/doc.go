// Package manifest 描述一次部署的构建产物：资源 key → 指纹的 Manifest、
// 启动外壳必需的 Core Set，以及请求 URL 与资源 key 之间的换算规则。
// 这里的类型在加载后只读，可以在多个 goroutine 之间共享。
package manifest
