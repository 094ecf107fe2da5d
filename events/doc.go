// 版权所有 2024 AgentMesh Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package events 定义领域事件及其投递端口。

# 概述

核心组件（fleet、router、resilience）只依赖 Sink 接口发出事件，
具体投递方式由装配层决定。Emit 为尽力而为语义，不得阻塞调用方。

# 核心类型

  - Event: 带 uuid、类型、发生时间与聚合 ID 的事件
  - Sink: 事件接收端口
  - AsyncSink: 基于 internal/pool 的异步投递，队列满时丢弃
  - RedisSink: 通过 Redis PUBLISH 以 JSON 广播事件
  - LogSink: zap 结构化日志

# 主要能力

  - Multi 扇出到多个 Sink
  - Func 适配普通函数，便于测试
*/
package events
