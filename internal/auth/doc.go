// Package auth protects the registry's admin API with JWT bearer tokens.
//
// Tokens are HS256, signed with the configured auth.jwt_secret (at least
// MinSecretLength bytes) and carry the operator's name in "sub":
//
//	verifier, err := auth.NewJWTVerifier([]byte(secret))
//	token, err := verifier.Generate("alice", 24*time.Hour)
//
// HTTPAuthMiddleware wraps handlers that mutate the registry or trigger
// sweeps. The MCP endpoints are not wrapped: public collections are meant to
// be reachable by any agent.
package auth
