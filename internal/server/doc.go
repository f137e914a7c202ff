// Package server provides HTTP routing, middleware and the OAuth callback used by `ytup auth login`.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] method patterns ("GET /callback").
//
// # OAuth Callback Handler
//
// [OAuthHandler] implements the Google OAuth2 authorization code callback with PKCE.
//
// The handler validates the state parameter (CSRF protection), exchanges the authorization code for tokens,
// and sends the result through a channel. It only processes one callback.
//
// # Login Flow
//
// [Login] binds a loopback listener, opens the consent page, waits for the callback and shuts the
// server down. The token is returned to the caller, which persists it.
package server
