// 版权所有 2024 AgentMesh Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package tlsutil 提供集中式 TLS 配置，
// 供 Redis 连接、wss 派发与 health 命令的 HTTP 客户端使用（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
