// 版权所有 2024 AgentMesh Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package transport 定义 envelope 投递端口及其错误分类。

# 概述

Port 是路由器与具体后端之间唯一的边界：给定一个 envelope 与一个目标，
Send 返回后端生成的投递 ID。后端失败被归一化为结构化错误，
TRANSIENT_TRANSPORT 可重试，TRANSPORT 为永久失败，重试策略只看
types.IsRetryable 的结果。

# 核心类型

  - Port：传输端口接口
  - Func：函数适配器，便于测试与组合
  - Classifier / IsRetryable / Classify：错误分类
  - RateLimited：基于令牌桶的发送限速装饰器

# 实现

  - transport/memory：进程内 channel 传输
  - transport/redisstream：按 agent 主题写入 Redis Stream
  - transport/websocket：每个端点一条 WebSocket 连接，帧确认
*/
package transport
