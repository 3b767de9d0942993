// Package mcp carries capability providers over the Model Context Protocol.
//
// This implementation uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp).
// [Server] publishes every provider in a registry: a list_capabilities tool
// describes them, and each context, action and post-process tool takes
// {record, args} and returns {record}. The identity store and orchestrator
// can be attached to add the administrative tools and run_pipeline.
//
// [RemoteProvider] is the other side. It wraps a client session so that a
// provider owned by another process can be registered like a local one.
package mcp
