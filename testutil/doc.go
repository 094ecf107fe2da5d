// 版权所有 2024 AgentMesh Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package testutil 提供 AgentMesh 测试的共享工具和辅助函数。

# 概述

testutil 包为 router、fleet、autonomy 等包的单元测试提供统一的
辅助能力，避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文: TestContext，随测试结束自动取消
  - 时钟: FakeClock 与固定的 Epoch，用于健康巡检与熔断测试
  - 通道: WaitForChannel，带超时的单次接收

# 子包

  - testutil/fixtures: agent 与 envelope 工厂，按场景预置能力与负载
  - testutil/mocks: EventRecorder（事件记录）、Transport（可编排的传输端口），
    均支持错误注入与调用记录
*/
package testutil
