// Package tlsutil 提供中继的出站 HTTP 客户端与服务端 TLS 配置。
//
// ProviderClient 供 LLM 提供方使用；FetchClient 供 fetch_url 工具使用，
// 默认拒绝连接非公网地址并限制重定向次数；ServerTLSConfig 用于 wss:// 执行器端点。
// 三者共用 TLS 1.2+、仅 AEAD 密码套件的设置。
package tlsutil
