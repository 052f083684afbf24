// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"

	// 故事书相关错误
	ErrorBookNotFound   = "BOOK_NOT_FOUND"
	ErrorBookInvalid    = "BOOK_INVALID"
	ErrorBookLoadFailed = "BOOK_LOAD_FAILED"
	ErrorNoStory        = "NO_STORY"
	ErrorURLDisabled    = "URL_LOADING_DISABLED"

	// 会话相关错误
	ErrorSessionNotFound   = "SESSION_NOT_FOUND"
	ErrorTransitionPending = "TRANSITION_PENDING"
	ErrorActionInactive    = "ACTION_INACTIVE"

	// 设置相关错误
	ErrorSettingsInvalid = "SETTINGS_INVALID"
)
