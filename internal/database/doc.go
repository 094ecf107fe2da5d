// 版权所有 2024 AgentMesh Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 按配置打开 GORM 连接，并管理 agent 仓储所用的连接池。

# 概述

Open 根据驱动名（postgres、mysql、sqlite）选择 dialector。PoolManager
封装连接池参数与后台健康检查，每次探活后把 sql.DBStats 交给
StatsObserver，服务端用它驱动 Prometheus 连接数指标。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 Ping、Stats、Close。
  - PoolConfig：最大空闲/打开连接数、生命周期与健康检查间隔。

# 主要能力

  - 驱动选择：Dialector/Open 查表构造，Drivers 列出可用驱动，sqlite 使用纯 Go 实现，无需 cgo。
  - 健康检查：CheckHealth 探活并回调统计，Close 会等待检查循环退出。
*/
package database
