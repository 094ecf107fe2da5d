// 版权所有 2024 AgentMesh Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package fleet 以每个 agent 一个 owner goroutine 的方式管理 agent 记录。

# 概述

每个 agent.Record 只被一个 Owner 持有。调用方通过命令通道提交迁移，
Owner 串行执行并采纳返回的新值，然后经仓储端口持久化并发出领域事件。
Fleet 的互斥锁只保护 owner 注册表。

# 核心类型

  - Fleet：注册、查询、快照、迁移、任务分派与健康巡检
  - Owner：独占单个记录的 actor
  - Transition：在 owner 内执行的迁移函数

# 主要能力

  - Offer：先经 autonomy.Evaluator 决策，再分配或入队
  - Complete / Fail：结束当前任务并启动队首任务
  - SweepHealth / Run：心跳超时的 agent 标记为 UNHEALTHY（原因 HEALTH_CHECK_EXPIRED）
  - Load：从仓储恢复已持久化的 agent
*/
package fleet
