package provider

// Category is the fixed set of user-facing failure categories. Raw provider
// error identifiers never reach user-visible text; every failure collapses
// into one of these.
type Category string

const (
	CategoryRateLimited    Category = "rate_limited"
	CategoryInvalidRequest Category = "invalid_request"
	CategoryFailure        Category = "failure"
)

// Friendly messages, one per category. These are the only error strings a
// user ever sees from the provider path.
const (
	msgRateLimited    = "The assistant is receiving too many requests right now. Please wait a moment and try again."
	msgInvalidRequest = "The request could not be processed. Try rephrasing your message."
	msgFailure        = "Something went wrong while generating a response. Please try again."
)

// Error is a classified provider failure.
type Error struct {
	Category Category `json:"category"`
}

// Error returns the friendly message for the category.
func (e *Error) Error() string {
	switch e.Category {
	case CategoryRateLimited:
		return msgRateLimited
	case CategoryInvalidRequest:
		return msgInvalidRequest
	default:
		return msgFailure
	}
}

// Classify maps a raw provider error payload to a fixed category. The name
// and message are matched against known identifiers but are never echoed.
func Classify(name string, statusCode int) *Error {
	switch {
	case statusCode == 429:
		return &Error{Category: CategoryRateLimited}
	case statusCode >= 400 && statusCode < 500 && statusCode != 429:
		return classifyName(name, CategoryInvalidRequest)
	default:
		return classifyName(name, CategoryFailure)
	}
}

func classifyName(name string, fallback Category) *Error {
	switch name {
	case "rate_limit_error", "overloaded_error":
		return &Error{Category: CategoryRateLimited}
	case "invalid_request_error", "authentication_error", "permission_error", "not_found_error":
		return &Error{Category: CategoryInvalidRequest}
	case "":
		return &Error{Category: fallback}
	default:
		return &Error{Category: fallback}
	}
}
