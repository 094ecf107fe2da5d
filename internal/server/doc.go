// 版权所有 2024 AgentMesh Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理运维 HTTP 服务器（健康检查、就绪探针、指标与
弹性快照）的生命周期。

# 核心类型

  - Manager：封装 net/http.Server，提供 Start/Shutdown/Wait。
  - Config：监听地址、读写与空闲超时、优雅关闭超时。ConfigFrom
    从应用配置派生。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行，Addr 返回实际监听地址。
  - 优雅关闭：Wait 在 ctx 结束（通常由信号触发）或服务异常时关闭。
*/
package server
