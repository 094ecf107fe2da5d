// 版权所有 2024 AgentMesh Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、路由派发、
agent 决策与状态、熔断舱壁以及数据库连接。

# 概述

Collector 通过 promauto.With 注册到调用方给定的 Registerer，
测试可使用独立的 prometheus.Registry。Collector 同时实现
events.Sink 与 router.Observer，可直接挂到事件总线和路由器上。

# 核心类型

  - Collector：持有 Counter、Histogram、Gauge 向量指标

# 主要能力

  - 路由指标：按 strategy/outcome 统计路由次数与耗时
  - 派发指标：按 transport/outcome 统计次数、耗时与尝试次数
  - 事件指标：按 kind 计数，状态迁移与 offer 决策单独计数
  - 弹性指标：熔断状态、舱壁利用率与活跃数（ObserveGuards）
  - 数据库指标：打开与空闲连接数
*/
package metrics
