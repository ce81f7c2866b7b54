package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/islentev/report-generator/internal/llm"
)

const extractSystemPrompt = `Ты извлекаешь реквизиты государственного контракта из фрагмента документа.
Верни ТОЛЬКО JSON-объект со строковыми значениями и ровно этими ключами:
%s
Правила:
- Бери значения только из текста. Ничего не придумывай и не достраивай.
- Если значение в тексте отсутствует, верни пустую строку "".
- Номер контракта и ИКЗ переписывай символ в символ.
- customer_signer и director_name: только ФИО, без должности.`

var fieldHints = map[Field]string{
	FieldContractNo:     "номер контракта",
	FieldContractDate:   "дата заключения контракта",
	FieldIKZ:            "идентификационный код закупки (ИКЗ)",
	FieldProjectName:    "предмет контракта / наименование услуг",
	FieldCustomer:       "наименование заказчика",
	FieldCustomerSigner: "ФИО подписанта со стороны заказчика",
	FieldCustomerPost:   "должность подписанта заказчика",
	FieldExecutor:       "наименование исполнителя",
	FieldDirectorName:   "ФИО подписанта со стороны исполнителя",
	FieldDirectorPost:   "должность подписанта исполнителя",
}

// Extractor asks the text service for the schema fields of one context
// window and coerces the answer into a Contract.
type Extractor struct {
	client llm.Client
	logger *zap.Logger
}

func NewExtractor(client llm.Client, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{client: client, logger: logger}
}

func (e *Extractor) request(window string) llm.Request {
	keys := make([]string, len(Schema))
	lines := make([]string, len(Schema))
	for i, f := range Schema {
		keys[i] = string(f)
		lines[i] = fmt.Sprintf("- %s: %s", f, fieldHints[f])
	}
	return llm.Request{
		System:      fmt.Sprintf(extractSystemPrompt, strings.Join(lines, "\n")),
		User:        window,
		Temperature: 0,
		Format:      llm.FormatJSON,
		Schema:      keys,
	}
}

// Extract makes exactly one structured call. A response that is not a flat
// JSON object carrying at least one schema key fails with
// llm.ErrMalformedResponse; schema keys that are merely missing come back as
// Unknown. Values that cannot be traced back to the window are dropped to
// Unknown as well.
func (e *Extractor) Extract(ctx context.Context, window string) (Contract, error) {
	if strings.TrimSpace(window) == "" {
		return Contract{}, fmt.Errorf("extract metadata: empty context window: %w", llm.ErrInvalidInput)
	}
	if e.client == nil {
		return Contract{}, fmt.Errorf("extract metadata: no client: %w", llm.ErrInvalidInput)
	}

	resp, err := e.client.Call(ctx, e.request(window))
	if err != nil {
		return Contract{}, fmt.Errorf("extract metadata: %w", err)
	}

	raw, err := decodeFlat(llm.CleanMarkdownOutput(resp))
	if err != nil {
		return Contract{}, fmt.Errorf("extract metadata: %w", err)
	}

	var c Contract
	for _, f := range Schema {
		v, ok := raw[string(f)]
		if !ok || IsUnknown(v) {
			continue
		}
		if !grounded(f, v, window) {
			e.logger.Warn("dropping metadata value not found in source",
				zap.String("field", string(f)), zap.String("value", v))
			continue
		}
		if nameFields[f] {
			v = FormatName(v)
		}
		_ = c.Set(f, v)
	}
	return c, nil
}

// decodeFlat parses a JSON object of scalar values keyed by schema fields.
// Numbers are kept in their literal form.
func decodeFlat(s string) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrMalformedResponse, err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected a JSON object, got %T", llm.ErrMalformedResponse, v)
	}

	out := make(map[string]string, len(Schema))
	for _, f := range Schema {
		val, ok := obj[string(f)]
		if !ok {
			continue
		}
		switch t := val.(type) {
		case nil:
			out[string(f)] = Unknown
		case string:
			out[string(f)] = strings.TrimSpace(t)
		case json.Number:
			out[string(f)] = t.String()
		default:
			return nil, fmt.Errorf("%w: field %s has non-scalar value %T", llm.ErrMalformedResponse, f, val)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: none of the expected keys present", llm.ErrMalformedResponse)
	}
	return out, nil
}
