// 版权所有 2024 AgentMesh Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package resilience 将舱壁、熔断器与重试组合为按名称共享的 Guard。

# 概述

每次受保护调用按固定顺序执行：舱壁准入 → 熔断检查 → 带重试的尝试
→ 熔断结果记录。整个重试过程只向熔断器记录一次结果；校验错误与
调用方取消不计入失败。

# 核心类型

  - Guard: 单个下游（通常是一个传输）的三件套组合
  - Registry: 按名称创建并共享 Guard，同名调用方共享同一份状态
  - Policy: 熔断、重试、舱壁配置，可由 PresetPolicy 按下游类型生成

# 主要能力

  - 熔断状态变更以 CircuitOpened / CircuitHalfOpened / CircuitClosed
    事件发往 events.Sink
  - Snapshot / OpenCircuits / ResetAll 供运维端点使用
*/
package resilience
