// Package mcp serves registry collections over the Model Context Protocol.
//
// # Overview
//
// Each public collection is its own MCP server. Agents list the collection's
// tools and call them; calls are routed to the executor the collection is
// configured with, either the shared sandbox or a custom URL.
//
// # Transports
//
// Both transports take one JSON-RPC 2.0 request per HTTP POST:
//
//   - POST /mcp/{slug} - the response is the JSON body
//   - POST /mcp/{slug}/http - same as above
//   - POST /mcp/{slug}/sse - the response is a single "message" event, then the stream closes
//
// Notifications (requests without an id) are accepted with 202 and no body.
// No session state is kept between requests.
//
// # Methods
//
//   - initialize - echoes server capabilities
//   - ping
//   - tools/list - the collection's tools, named "package/export"
//   - tools/call - validates arguments against the tool's input schema, then executes
//
// # Errors
//
//	-32700  body is not JSON
//	-32600  not a JSON-RPC 2.0 request
//	-32601  unknown method
//	-32602  invalid params or arguments
//	-32603  lookup timeout, store failure, executor fault
//	-32001  collection or tool not found, unknown transport
//
// Executor faults carry the route code (executor_unreachable,
// executor_timeout or executor_rejected) as the error message. A tool that
// ran and threw is not a protocol error: it is returned as a result with
// isError set.
//
// # Usage
//
//	{
//	  "mcpServers": {
//	    "dates": {"url": "http://localhost:8080/mcp/dates"}
//	  }
//	}
package mcp
