// Package api holds the request and response types of the AgentRelay HTTP API.
//
// # API Overview
//
// AgentRelay exposes:
//   - POST /api/v1/runs            start a run synchronously and return its execution log
//   - GET  /api/v1/runs            list stored runs (agent_id, session_id, status, limit)
//   - GET  /api/v1/runs/{id}       fetch a stored run
//   - GET  /api/v1/agents          list the agent catalog
//   - GET  /api/v1/agents/{id}     fetch one agent
//   - GET  /api/v1/executors       executor sessions known to the hub
//   - /ws/executor                 executor WebSocket connection
//   - /ws/events                   observer event stream (session_id or run_id query)
//   - /health, /healthz, /ready, /version, /metrics
//
// # Authentication
//
// When auth is enabled every endpoint except the health endpoints requires a JWT,
// sent as "Authorization: Bearer <token>" or as the token query parameter for
// WebSocket clients. The session_id claim (falling back to user_id) selects the
// executor session the caller drives.
//
// # Base URL
//
//	http://localhost:8080
package api
