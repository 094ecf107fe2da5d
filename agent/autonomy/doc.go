// 版权所有 2024 AgentMesh Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package autonomy 实现 agent 端的任务接受决策。

# 概述

Evaluator 先按顺序检查硬约束（可用、健康、能力齐全、成功率达标），
任一失败立即拒绝且不计算软评分；全部通过后计算软评分：

	0.4*priority/4 + 0.3*capability_match + 0.2*(1-load) + 0.1*urgency

得分不低于接受阈值（默认 0.6）即接受。Decision.Factors 给出每个因子的
原始值与加权值，便于解释决策。

# 主要能力

  - Evaluate：单个任务的接受决策
  - Prioritize：按软评分降序（稳定）排列可承接的任务
  - ShouldPauseForMaintenance：错误率过高时建议暂停维护
  - OfferingFromEnvelope：由 envelope 派生任务要约，过期时间即截止时间
*/
package autonomy
