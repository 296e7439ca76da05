package protocol

import "net/http"

// Error codes carried by ExecutionResult.ErrorCode.
const (
	CodeNetworkError = "NETWORK_ERROR"
	CodeTimeout      = "TIMEOUT"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeNotFound     = "NOT_FOUND"
	CodeRateLimited  = "RATE_LIMITED"
	CodeServerError  = "SERVER_ERROR"
	CodeClientError  = "CLIENT_ERROR"
	CodeTokenExpired = "TOKEN_EXPIRED"
	CodeSOAPFault    = "SOAP_FAULT"
)

// ClassifyStatus maps a non-2xx HTTP status to a machine error code.
// 2xx statuses map to the empty string.
func ClassifyStatus(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return ""
	case statusCode == http.StatusUnauthorized:
		return CodeUnauthorized
	case statusCode == http.StatusForbidden:
		return CodeForbidden
	case statusCode == http.StatusNotFound:
		return CodeNotFound
	case statusCode == http.StatusTooManyRequests:
		return CodeRateLimited
	case statusCode >= 500:
		return CodeServerError
	default:
		return CodeClientError
	}
}
