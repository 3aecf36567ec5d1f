// Package gateway wires the toolshed components behind one HTTP server.
//
// # Overview
//
// The Gateway owns the store, the executor client and router, the catalog
// indexer, the search index, the verifier, the health scheduler, the quality
// rescorer, the fixtures cache and the MCP server. New opens the SQLite store
// and builds everything around it; Run rebuilds the search index, starts the
// health scheduler and fixtures watcher, then serves until its context ends.
// Sweep, Rescore and Sync run the same jobs once for the CLI; Sync reads
// package metadata from catalog.metadata_dir.
//
// # HTTP API
//
//   - GET /health - Liveness check
//   - GET /health/ready - Store reachable and default sandbox healthy
//   - GET /api/tools?q=&limit= - Search tools, best quality first
//   - GET /api/tools/{package}/{export} - One tool; package may be scoped
//   - POST /api/packages - Register or re-index a package from its metadata
//   - POST /api/tools/execute - Run a tool on the sandbox or a custom executor
//   - POST /api/executors/verify - Verification handshake for a custom executor
//   - GET /api/collections/{slug} - One collection and its tools
//   - PUT /api/collections/{slug} - Create or replace a collection
//   - POST /api/health/sweep - Run one health sweep
//   - POST /api/quality/rescore - Recompute quality scores
//   - POST /mcp/{slug}[/sse|/http] - MCP JSON-RPC for a public collection
//   - GET /metrics - Prometheus metrics
//
// When auth.jwt_secret is set, the mutating /api routes and the collection
// routes require a bearer token issued by "toolshed token".
//
// # Error Mapping
//
// Tool execution failures map onto HTTP status codes:
//
//   - execution_failure (the tool threw) - 422
//   - executor_timeout or a sandbox timeout - 504
//   - executor_unreachable, executor_rejected or a sandbox fault - 502
//   - invalid executor configuration or arguments - 400
//
// Request env maps are forwarded to the executor and never logged.
package gateway
