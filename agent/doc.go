// 版权所有 2024 AgentMesh Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package agent 定义 agent 聚合及其生命周期状态机。

# 概述

Record 是不可变的值类型：注册时由 NewRecord 校验创建，之后只能通过
命名的迁移方法（AssignTask、CompleteTask、Pause、MarkUnhealthy 等）
获得新值。非法迁移返回 INVARIANT_VIOLATION 错误，原值保持不变。
每个 Record 由唯一的所有者 goroutine 持有（见 agent/fleet），
因此 agent 数据上不需要任何锁。

# 状态机

	AVAILABLE ──assign──▶ BUSY ──complete/fail──▶ AVAILABLE
	AVAILABLE ──pause──▶ PAUSED ──resume──▶ AVAILABLE
	AVAILABLE/BUSY/PAUSED ──mark_unhealthy──▶ UNHEALTHY ──mark_healthy──▶ AVAILABLE
	任意非终态（无活动任务）──terminate──▶ TERMINATED

# 核心类型

  - Record：agent 聚合，active_task_id 当且仅当 BUSY 时存在
  - Capability：命名技能与熟练度（1–5）
  - HealthMetrics：随心跳上报的成功率、响应时间等指标
  - State：用于持久化的可序列化快照，FromState 重新校验所有不变量

# 主要能力

  - FIFO 待处理队列：EnqueueTask / StartNext / WithdrawTask
  - 健康判定：IsHealthy(now) 基于心跳超时
  - 能力匹配：MatchCapabilities 计算覆盖率与平均熟练度
*/
package agent
