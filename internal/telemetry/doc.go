// 版权所有 2024 AgentMesh Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为路由 span 与派发耗时直方图提供 OTLP gRPC 导出。
// 当遥测功能禁用时，使用 noop 实现，不连接任何外部服务。
package telemetry
