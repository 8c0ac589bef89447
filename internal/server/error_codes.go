package server

const (
	// Validation (1xxx)
	ErrCodeInvalidArgument  = 1000
	ErrCodeInvalidJSON      = 1001
	ErrCodeRequestTooLarge  = 1002
	ErrCodeInvalidTokenPath = 1003
	ErrCodeInvalidUsePolicy = 1004
	ErrCodeInvalidMultipart = 1005
	ErrCodeMissingRequired  = 1006
	ErrCodeInvalidDeadline  = 1007

	// Domain state (2xxx)
	ErrCodeTokenNotFound    = 2001
	ErrCodeTokenExpired     = 2002
	ErrCodeTokenAlreadyUsed = 2003
	ErrCodeContentExpired   = 2004
	ErrCodeBlobNotFound     = 2005
	ErrCodeTokenPathTaken   = 2101
	ErrCodeConflict         = 2102

	// Auth & limits (3xxx)
	ErrCodeUnauthorized      = 3001
	ErrCodeForbidden         = 3002
	ErrCodeResourceExhausted = 3003
	ErrCodeSizeLimitExceeded = 3004

	// Internal/system (4xxx)
	ErrCodeInternal      = 4001
	ErrCodeStoreFailure  = 4002
	ErrCodeStorageFailed = 4003
	ErrCodeArchiveFailed = 4004
	ErrCodeObjectMissing = 4005
)

func defaultErrorCodeByStatus(status int) int {
	switch status {
	case 400:
		return ErrCodeInvalidArgument
	case 401:
		return ErrCodeUnauthorized
	case 403:
		return ErrCodeForbidden
	case 404:
		return ErrCodeTokenNotFound
	case 409:
		return ErrCodeConflict
	case 410:
		return ErrCodeContentExpired
	case 413:
		return ErrCodeSizeLimitExceeded
	case 429:
		return ErrCodeResourceExhausted
	case 500:
		return ErrCodeInternal
	default:
		return 0
	}
}
