package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")

	// Authentication errors
	ErrAuthFailed       = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrTokenExpired     = fmt.Errorf("access token expired")
	ErrRefreshFailed    = fmt.Errorf("token refresh failed")
	ErrNoRefreshToken   = fmt.Errorf("no refresh token available")
	ErrTimeout          = fmt.Errorf("operation timed out")

	// Source errors
	ErrSourceNotFound   = fmt.Errorf("source file not found")
	ErrSourceUnreadable = fmt.Errorf("source file unreadable")
	ErrSourceIOFault    = fmt.Errorf("source read failed")
	ErrSourceChanged    = fmt.Errorf("source file changed since it was fingerprinted")
	ErrSourceTooLarge   = fmt.Errorf("source file exceeds maximum upload size")
	ErrUnsupportedFile  = fmt.Errorf("unsupported video format")

	// Transport errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrMissingSession     = fmt.Errorf("upload session URI missing from response")
	ErrMalformedResponse  = fmt.Errorf("malformed upload response")
	ErrPlaylistNotFound   = fmt.Errorf("playlist not found")

	// Quota errors
	ErrQuotaDenied = fmt.Errorf("daily quota exhausted")

	// Ledger and engine errors
	ErrLedgerEntryNotFound = fmt.Errorf("ledger entry not found")
	ErrAlreadyActive       = fmt.Errorf("an upload session is already active for this unit")
	ErrRunHalted           = fmt.Errorf("run halted")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)
