// 版权所有 2024 AgentMesh Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package router 选择接收 envelope 的 agent，并通过弹性守卫完成派发。

# 概述

Scorer 对候选 agent 做多因子评分（能力匹配 0.40、可用性 0.25、负载 0.15、
历史表现 0.15、响应速度 0.05），缺少任一所需能力的 agent 被硬性排除。
Router 在构造时从封闭的策略集合中选定一种策略，解析目标后把 envelope
标记为 ROUTED，再用 errgroup 并发地经 resilience.Guard 投递到每个目标。
至少一个目标成功则 envelope 为 DELIVERED，否则为 FAILED。

# 核心类型

  - Scorer / ScoreResult / Factors：评分与逐因子明细
  - Strategy / StrategyKind：round_robin、least_connections、capability_based、
    load_balanced、priority_queue
  - Router / RouteResult / TargetResult：路由与逐目标派发结果
  - Observer：路由与派发度量回调

# 主要能力

  - 只有 AVAILABLE 且持有全部所需能力的同租户 agent 才有资格
  - 平分时按待处理队列长度、再按 agent ID 决胜，结果确定
  - priority_queue：按优先级降序、同级 FIFO 的待派发堆，Start 启动工作协程，
    Withdraw 撤回尚未派发的 envelope，Close 撤回剩余项
  - 每次路由一个 otel span，派发时长记录到 otel 直方图
*/
package router
