package pipeline

import (
	"context"
	"errors"
	"net"

	"github.com/islentev/report-generator/internal/document"
	"github.com/islentev/report-generator/internal/llm"
)

// Kind is the user-facing error category of a failed run.
type Kind string

const (
	KindEmptyInput        Kind = "empty_input"
	KindExternalService   Kind = "external_service"
	KindMalformedResponse Kind = "malformed_response"
	KindTimeout           Kind = "timeout"
	KindRateLimited       Kind = "rate_limited"
	KindInvalidInput      Kind = "invalid_input"
	KindCanceled          Kind = "canceled"
	KindUnknown           Kind = "unknown"
)

// Classify maps err onto a Kind using sentinel errors and standard error
// types only, never message text.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, document.ErrEmptyInput) {
		return KindEmptyInput
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, llm.ErrRateLimited) {
		return KindRateLimited
	}
	if errors.Is(err, llm.ErrMalformedResponse) {
		return KindMalformedResponse
	}
	if errors.Is(err, llm.ErrInvalidInput) {
		return KindInvalidInput
	}
	if errors.Is(err, llm.ErrServiceFailure) {
		return KindExternalService
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		if nerr.Timeout() {
			return KindTimeout
		}
		return KindExternalService
	}
	return KindUnknown
}

var displayMessages = map[Kind]string{
	KindEmptyInput:        "В документе не найден текст. Проверьте, что загружен файл с техническим заданием.",
	KindExternalService:   "Сервис генерации текста недоступен или вернул ошибку. Повторите попытку позже.",
	KindMalformedResponse: "Сервис вернул ответ в неожиданном формате. Реквизиты не заполнены; повторите попытку или введите их вручную.",
	KindTimeout:           "Сервис генерации текста не ответил вовремя. Повторите попытку.",
	KindRateLimited:       "Превышен лимит запросов к сервису генерации текста. Подождите и повторите попытку.",
	KindInvalidInput:      "Некорректные входные данные или настройки.",
	KindCanceled:          "Сборка отчета прервана.",
	KindUnknown:           "Не удалось собрать отчет.",
}

// DisplayMessage is the text shown to the user for err.
func DisplayMessage(err error) string {
	if err == nil {
		return ""
	}
	return displayMessages[Classify(err)]
}
