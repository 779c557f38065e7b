// Package mcp implements the JSON-RPC 2.0 stdio server that fronts
// the memory core for MCP-speaking clients. It is a thin dispatcher:
// every tool call maps onto one core operation.
package mcp
