// Package auth guards the web chat with HS256 JWTs.
//
// Tokens are minted by `chatbot token` with the configured auth.jwt_secret
// and carry the user name in the "sub" claim. HTTPAuthMiddleware accepts a
// token from, in order:
//
//   - the Authorization header (Bearer scheme)
//   - the chatbot_token cookie
//   - a ?token= query parameter, which is moved into the cookie
//
// When no secret is configured the web chat runs without this middleware.
package auth
