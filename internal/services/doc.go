// Package services talks to YouTube on behalf of the upload engine.
//
// # Resumable Uploads
//
// [ResumableClient] implements [Uploader] over the resumable upload protocol:
//
//   - InitiateSession POSTs the video resource with X-Upload-Content-Length and returns the Location header as the session handle.
//   - SendChunk PUTs a byte range with Content-Range. A 308 carries the committed range; 200/201 carries the video ID.
//   - QueryOffset PUTs an empty body with "bytes */total" to learn the committed offset after an ambiguous outcome.
//
// The client never follows redirects, because 308 is a protocol reply here.
//
// # Data API
//
// [PlaylistService] and [VideoService] use the generated youtube/v3 client.
// Each call is admitted by a [Gate] (normally the quota governor) before it is sent.
//
// # Credentials
//
// [TokenCredentials] hands out bearer tokens from an oauth2.TokenSource and writes refreshed tokens back through a callback.
// A 401 from any call is reported through [CredentialProvider.Reject].
//
// # Error Handling
//
// Every failure is an [OutcomeError] carrying a [models.FailureKind]:
//   - 401, or 403 without a quota reason: auth_rejected
//   - 403 quotaExceeded, dailyLimitExceeded, uploadLimitExceeded: quota_exceeded with Daily set
//   - 403 rateLimitExceeded, userRateLimitExceeded, and 429: quota_exceeded
//   - 404 or 410 on a session handle: session_expired
//   - 408, 5xx and network errors: transient
//   - other 4xx: permanent_request
//   - malformed or unexpected replies: protocol_anomaly
package services
