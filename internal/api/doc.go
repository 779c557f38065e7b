// Package api exposes the memory core over HTTP for local dashboards
// and tooling. It mirrors the MCP tool surface one endpoint per
// operation.
package api
