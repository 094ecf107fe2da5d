// 版权所有 2024 AgentMesh Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package types 提供 AgentMesh 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent、router、resilience、
transport 等上层模块提供统一的数据契约。可路由的工作单元 Envelope、
投递目标 Target 以及结构化错误体系均定义于此，以避免循环依赖。

# 核心类型

  - Envelope      : 不可变的可路由工作单元（CREATED → ROUTED → DELIVERED/FAILED）
  - Priority      : 优先级 1–4（LOW..CRITICAL）
  - Target        : 路由策略解析出的投递目标
  - Error         : 结构化错误（Code、Message、Retryable、Cause）
  - ErrorCode     : 统一错误码（VALIDATION、CIRCUIT_OPEN、BULKHEAD_FULL 等）

# 主要能力

  - Envelope 构造校验：NewEnvelope 拒绝空租户、非法优先级、过期时间早于创建时间
  - 状态单调迁移：WithTargets / MarkDelivered / MarkFailed 返回新值，不原地修改
  - 错误工具链：IsRetryable / GetErrorCode / IsCode，errors.Is 按错误码匹配
  - 常用错误构造：NewValidationError / NewInvariantViolation / NewTransientTransportError
*/
package types
