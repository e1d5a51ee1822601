// Package auth verifies bearer JWTs on API requests and propagates the
// authenticated user ID through the request context. Tokens are HS256
// signed with the server's shared secret; the subject claim is the
// user ID that scopes every plugin operation.
package auth
