package api

import (
	"net/http"

	"github.com/islentev/report-generator/internal/pipeline"
)

// API error codes
const (
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"

	// upload
	ErrorFileMissing  = "FILE_MISSING"
	ErrorFileInvalid  = "FILE_INVALID"
	ErrorFileTooLarge = "FILE_TOO_LARGE"
	ErrorEmptyInput   = "EMPTY_INPUT"

	// user edits
	ErrorMetadataInvalid = "METADATA_INVALID"

	// text service
	ErrorLLMServiceUnavailable = "LLM_SERVICE_UNAVAILABLE"
	ErrorLLMResponseMalformed  = "LLM_RESPONSE_MALFORMED"
	ErrorLLMRateLimited        = "LLM_RATE_LIMITED"
	ErrorLLMTimeout            = "LLM_TIMEOUT"
	ErrorRequestCanceled       = "REQUEST_CANCELED"

	ErrorHistoryDisabled = "HISTORY_DISABLED"
)

// statusForKind maps a pipeline failure onto an HTTP status and error code.
func statusForKind(k pipeline.Kind) (int, string) {
	switch k {
	case pipeline.KindEmptyInput:
		return http.StatusUnprocessableEntity, ErrorEmptyInput
	case pipeline.KindRateLimited:
		return http.StatusTooManyRequests, ErrorLLMRateLimited
	case pipeline.KindTimeout:
		return http.StatusGatewayTimeout, ErrorLLMTimeout
	case pipeline.KindExternalService:
		return http.StatusBadGateway, ErrorLLMServiceUnavailable
	case pipeline.KindMalformedResponse:
		return http.StatusBadGateway, ErrorLLMResponseMalformed
	case pipeline.KindInvalidInput:
		return http.StatusBadRequest, ErrorBadRequest
	case pipeline.KindCanceled:
		// nginx's "client closed request"
		return 499, ErrorRequestCanceled
	default:
		return http.StatusInternalServerError, ErrorInternalError
	}
}
