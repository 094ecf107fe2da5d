// 版权所有 2024 AgentMesh Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理 agent 仓储表的 Schema 迁移，支持 PostgreSQL、
MySQL 与 SQLite，基于 golang-migrate 实现。

# 概述

各方言的 SQL 文件通过 embed.FS 内嵌，经 iofs source 交给
golang-migrate。迁移器不自行打开连接：调用方按驱动打开 *sql.DB
后传入，迁移器接管其生命周期，Close 时一并关闭。

# 核心接口与类型

  - Migrator：Up/Down/DownAll/Steps/Goto/Force/Version/Status/Info/Close。
  - DefaultMigrator：Migrator 的默认实现，迁移日志经 zap 输出，
    ctx 取消时在当前步骤完成后停止。
  - Config：方言、迁移表名与锁超时。
  - CLI：面向终端的格式化输出，Run 按子命令分派。

# 主要能力

  - 多方言：postgres、mysql、sqlite 三套内嵌迁移。
  - 状态查询：Status 列出每个版本是否已应用，Info 给出汇总。
*/
package migration
