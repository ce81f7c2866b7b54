package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/islentev/report-generator/internal/document"
	"github.com/islentev/report-generator/internal/llm"
	"github.com/islentev/report-generator/internal/metadata"
	"github.com/islentev/report-generator/internal/pipeline"
	"github.com/islentev/report-generator/internal/rewrite"
	"github.com/islentev/report-generator/internal/section"
	"github.com/islentev/report-generator/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const sampleText = `Государственный контракт № 77-ОК
Техническое задание
1. Уборка территории парка.
2. Вывоз мусора.
Приложение № 2
Требования к документации: Акт, фотоотчет.`

type stubService struct {
	calls    atomic.Int32
	metaJSON string
	err      error
}

func (s *stubService) Call(_ context.Context, req llm.Request) (string, error) {
	s.calls.Add(1)
	if s.err != nil {
		return "", s.err
	}
	switch {
	case req.Format == llm.FormatJSON:
		return s.metaJSON, nil
	case strings.HasPrefix(req.System, "Ты контролер"):
		return "ОШИБОК: 0", nil
	default:
		_, src, _ := strings.Cut(req.User, "\n\n")
		return src, nil
	}
}

func newTestRouter(t *testing.T, svc llm.Client, history storage.RunStore) *gin.Engine {
	t.Helper()
	loc, err := section.NewLocator(section.Config{
		StartMarkers: []string{`Техническое\s+задание`},
		EndMarkers:   []string{`Приложение\s*№\s*2`},
	})
	require.NoError(t, err)
	reqLoc, err := section.NewLocator(section.Config{StartMarkers: []string{`Требования\s+к\s+документации`}})
	require.NoError(t, err)
	proc, err := rewrite.NewProcessor(rewrite.Options{Rewriter: svc, ZeroToken: "ОШИБОК: 0"})
	require.NoError(t, err)
	p, err := pipeline.New(pipeline.Options{
		Locator:             loc,
		RequirementsLocator: reqLoc,
		Processor:           proc,
		Extractor:           metadata.NewExtractor(svc, nil),
		Store:               history,
	})
	require.NoError(t, err)
	return SetupRouter(NewHandler(HandlerOptions{Pipeline: p, History: history, MaxUpload: 1 << 20}))
}

func multipartBody(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func post(t *testing.T, r http.Handler, path, filename, content string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, filename, content, fields)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestGenerateReport_ReturnsDocx(t *testing.T) {
	svc := &stubService{metaJSON: `{"contract_no": "77-ОК"}`}
	r := newTestRouter(t, svc, nil)

	rec := post(t, r, "/api/v1/reports", "tz.txt", sampleText, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, docxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), reportFilename)
	assert.NotEmpty(t, rec.Header().Get("X-Run-ID"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	src, err := document.Parse("out.docx", rec.Body.Bytes())
	require.NoError(t, err)
	text := src.Text()
	assert.Contains(t, text, "1. Уборка территории парка.")
	assert.Contains(t, text, "№ 77-ОК")
	assert.Contains(t, text, "ТРЕБОВАНИЯ К ПРЕДОСТАВЛЯЕМОЙ ДОКУМЕНТАЦИИ")
}

func TestGenerateReport_UserEdits(t *testing.T) {
	svc := &stubService{metaJSON: `{"contract_no": "77-ОК"}`}
	r := newTestRouter(t, svc, nil)

	rec := post(t, r, "/api/v1/reports", "tz.txt", sampleText, map[string]string{
		"metadata":     `{"customer": "ГБУ «Парк культуры»"}`,
		"requirements": "",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	src, err := document.Parse("out.docx", rec.Body.Bytes())
	require.NoError(t, err)
	text := src.Text()
	assert.Contains(t, text, "ГБУ «Парк культуры»")
	assert.NotContains(t, text, "ТРЕБОВАНИЯ К ПРЕДОСТАВЛЯЕМОЙ ДОКУМЕНТАЦИИ")

	rec = post(t, r, "/api/v1/reports", "tz.txt", sampleText, map[string]string{"metadata": `{"bogus": "1"}`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrorMetadataInvalid, decode(t, rec).Error.Code)
}

func TestGenerateReport_Errors(t *testing.T) {
	tests := []struct {
		name     string
		svc      *stubService
		filename string
		content  string
		status   int
		code     string
	}{
		{"missing file", &stubService{}, "", "", http.StatusBadRequest, ErrorFileMissing},
		{"empty document", &stubService{}, "tz.txt", "  \n ", http.StatusUnprocessableEntity, ErrorEmptyInput},
		{"broken docx", &stubService{}, "tz.docx", "not a zip", http.StatusBadRequest, ErrorFileInvalid},
		{"rate limited", &stubService{err: llm.ErrRateLimited}, "tz.txt", sampleText, http.StatusTooManyRequests, ErrorLLMRateLimited},
		{"upstream down", &stubService{err: &llm.UpstreamError{Status: 503, Msg: "down"}}, "tz.txt", sampleText, http.StatusBadGateway, ErrorLLMServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(t, tt.svc, nil)
			rec := post(t, r, "/api/v1/reports", tt.filename, tt.content, nil)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			resp := decode(t, rec)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestGenerateReport_OversizedUploadRejected(t *testing.T) {
	svc := &stubService{}
	r := newTestRouter(t, svc, nil)

	big := strings.Repeat("1. Уборка территории.\n", 200_000)
	rec := post(t, r, "/api/v1/reports", "tz.txt", big, nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, ErrorFileTooLarge, decode(t, rec).Error.Code)
	assert.EqualValues(t, 0, svc.calls.Load())
}

func TestExtractMetadata(t *testing.T) {
	svc := &stubService{metaJSON: `{"contract_no": "77-ОК", "contract_date": "01.01.2020"}`}
	r := newTestRouter(t, svc, nil)

	rec := post(t, r, "/api/v1/metadata", "tz.txt", sampleText, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Metadata metadata.Contract `json:"metadata"`
			Missing  []metadata.Field  `json:"missing"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "77-ОК", resp.Data.Metadata.ContractNo)
	// not in the document, so not accepted
	assert.Equal(t, metadata.Unknown, resp.Data.Metadata.ContractDate)
	assert.Contains(t, resp.Data.Missing, metadata.FieldContractDate)
	assert.EqualValues(t, 1, svc.calls.Load())
}

func TestPreview_NoServiceCalls(t *testing.T) {
	svc := &stubService{}
	r := newTestRouter(t, svc, nil)

	rec := post(t, r, "/api/v1/preview", "tz.txt", sampleText, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data pipeline.Plan `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Span.Anchored)
	assert.Equal(t, "Техническое задание", resp.Data.Parts.Preamble)
	assert.Len(t, resp.Data.Parts.Chunks, 2)
	assert.Equal(t, "Акт, фотоотчет.", resp.Data.Requirements)
	assert.EqualValues(t, 0, svc.calls.Load())
}

func TestRuns(t *testing.T) {
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	defer store.Close()

	svc := &stubService{metaJSON: `{"contract_no": "77-ОК"}`}
	r := newTestRouter(t, svc, store)

	rec := post(t, r, "/api/v1/reports", "tz.txt", sampleText, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runID := rec.Header().Get("X-Run-ID")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), runID)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+runID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Уборка территории")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRuns_HistoryDisabled(t *testing.T) {
	r := newTestRouter(t, &stubService{}, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ErrorHistoryDisabled, decode(t, rec).Error.Code)
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t, &stubService{}, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
