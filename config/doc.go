// 版权所有 2024 AgentMesh Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package config 提供 AgentMesh 的配置加载与校验。

# 概述

配置按 默认值 → YAML 文件 → 环境变量 的顺序叠加。环境变量键由
前缀与各级 env 标签拼接而成，例如 AGENTMESH_ROUTER_STRATEGY。

# 核心类型

  - Config：完整配置，按组件分节
  - Loader：Builder 模式的加载器

# 主要能力

  - Validate：汇总所有不合法的配置项
  - DatabaseConfig.DSN：按驱动生成连接串
*/
package config
