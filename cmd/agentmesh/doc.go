// 版权所有 2024 AgentMesh Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Command agentmesh 是 AgentMesh 路由守护进程的运维入口。

# 子命令

  - serve：装配仓储、传输、事件出口、弹性注册表、路由器与 agent
    舰队，运行健康巡检，并在 HTTP 上暴露 /health、/ready、/metrics
    与 /debug/*。收到 SIGINT/SIGTERM 后优雅关闭。
  - migrate：对 agents 表执行 up/down/steps/goto/force/status 等迁移。
  - health：探测运行中实例的 /health。
  - version：打印构建时注入的版本信息。
*/
package main
