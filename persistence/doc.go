// 版权所有 2024 AgentMesh Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package persistence 提供 agent 记录的仓储端口与适配器。

# 概述

核心只通过 AgentRepository 读写 agent.Record，本包提供三种实现：
进程内 Memory、基于 Redis 哈希与能力集合索引的 Redis，以及基于
GORM 的 SQL 实现（PostgreSQL、MySQL、SQLite）。

# 核心类型

  - AgentRepository：FindByCapabilities、Save、Get、List
  - MemoryRepository：开发与测试使用
  - RedisRepository：按租户哈希存储 JSON 快照，能力集合做交集查询
  - GormRepository：agents 表，按 (tenant_id, id) upsert

# 主要能力

  - Save 采用最后写入者胜出语义
  - 读出的记录经 agent.FromState 重新校验
  - 未找到统一返回 ErrNotFound（错误码 NOT_FOUND）
*/
package persistence
