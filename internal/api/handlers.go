package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/islentev/report-generator/internal/document"
	"github.com/islentev/report-generator/internal/metadata"
	"github.com/islentev/report-generator/internal/pipeline"
	"github.com/islentev/report-generator/internal/storage"
)

const (
	docxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	reportFilename  = "Report_Final.docx"
	formOverhead    = 1 << 20
)

// Handler serves the report endpoints over one shared pipeline.
type Handler struct {
	pipeline   *pipeline.Pipeline
	history    storage.RunStore // nil disables /runs
	maxUpload  int64
	runTimeout time.Duration
	logger     *zap.Logger
	response   *ResponseHelper
}

type HandlerOptions struct {
	Pipeline   *pipeline.Pipeline
	History    storage.RunStore
	MaxUpload  int64 // bytes
	RunTimeout time.Duration
	Logger     *zap.Logger
}

func NewHandler(opts HandlerOptions) *Handler {
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = 20 << 20
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Handler{
		pipeline:   opts.Pipeline,
		history:    opts.History,
		maxUpload:  opts.MaxUpload,
		runTimeout: opts.RunTimeout,
		logger:     opts.Logger,
		response:   NewResponseHelper(),
	}
}

// readUpload parses the multipart "file" field into a source document. It
// writes the error response itself and returns ok=false on failure.
func (h *Handler) readUpload(c *gin.Context) (document.Source, bool) {
	// room for the other form fields and multipart framing
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+formOverhead)
	fh, err := c.FormFile("file")
	if isTooLarge(err) {
		h.response.Error(c, http.StatusRequestEntityTooLarge, ErrorFileTooLarge,
			fmt.Sprintf("Файл больше %d МБ.", h.maxUpload>>20))
		return document.Source{}, false
	}
	if err != nil {
		h.response.BadRequest(c, ErrorFileMissing, "Загрузите файл в поле \"file\".")
		return document.Source{}, false
	}
	if fh.Size > h.maxUpload {
		h.response.Error(c, http.StatusRequestEntityTooLarge, ErrorFileTooLarge,
			fmt.Sprintf("Файл больше %d МБ.", h.maxUpload>>20))
		return document.Source{}, false
	}
	f, err := fh.Open()
	if err != nil {
		h.response.InternalError(c, "Не удалось прочитать файл.")
		return document.Source{}, false
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxUpload+1))
	if err != nil {
		h.response.InternalError(c, "Не удалось прочитать файл.")
		return document.Source{}, false
	}

	src, err := document.Parse(fh.Filename, data)
	switch {
	case errors.Is(err, document.ErrEmptyInput):
		h.response.Error(c, http.StatusUnprocessableEntity, ErrorEmptyInput,
			pipeline.DisplayMessage(err))
		return document.Source{}, false
	case err != nil:
		h.response.BadRequest(c, ErrorFileInvalid, "Не удалось разобрать документ.", err.Error())
		return document.Source{}, false
	}
	return src, true
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || (err != nil && strings.Contains(err.Error(), "request body too large"))
}

func (h *Handler) runContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.runTimeout > 0 {
		return context.WithTimeout(c.Request.Context(), h.runTimeout)
	}
	return context.WithCancel(c.Request.Context())
}

func (h *Handler) pipelineError(c *gin.Context, err error, runID string) {
	status, code := statusForKind(pipeline.Classify(err))
	if runID != "" {
		c.Header("X-Run-ID", runID)
	}
	h.response.Error(c, status, code, pipeline.DisplayMessage(err), err.Error())
}

// GenerateReport runs the whole pipeline and returns the .docx.
// Optional form fields: "metadata" (JSON with the schema keys) and
// "requirements" (text; an empty value drops the section).
func (h *Handler) GenerateReport(c *gin.Context) {
	src, ok := h.readUpload(c)
	if !ok {
		return
	}
	in := pipeline.Input{Name: src.Name, Text: src.Text()}

	if raw := strings.TrimSpace(c.PostForm("metadata")); raw != "" {
		meta, err := metadata.ParseContract([]byte(raw))
		if err != nil {
			h.response.BadRequest(c, ErrorMetadataInvalid, "Некорректные реквизиты.", err.Error())
			return
		}
		in.Metadata = &meta
	}
	if req, present := c.GetPostForm("requirements"); present {
		in.Requirements = &req
	}

	ctx, cancel := h.runContext(c)
	defer cancel()

	res, err := h.pipeline.Run(ctx, in)
	if err != nil {
		h.pipelineError(c, err, res.RunID)
		return
	}

	data, err := res.Docx()
	if err != nil {
		h.logger.Error("docx serialization failed", zap.String("run_id", res.RunID), zap.Error(err))
		h.response.InternalError(c, "Не удалось сформировать файл отчета.")
		return
	}
	c.Header("X-Run-ID", res.RunID)
	if codes := res.Report.SignalCodes(); len(codes) > 0 {
		c.Header("X-Report-Signals", strings.Join(codes, ","))
	}
	h.response.DownloadResponse(c, data, reportFilename, docxContentType)
}

// ExtractMetadata returns the contract particulars found in the upload so
// the user can review them before generating.
func (h *Handler) ExtractMetadata(c *gin.Context) {
	src, ok := h.readUpload(c)
	if !ok {
		return
	}
	ctx, cancel := h.runContext(c)
	defer cancel()

	meta, err := h.pipeline.ExtractMetadata(ctx, src.Text())
	if err != nil {
		h.pipelineError(c, err, "")
		return
	}
	missing := meta.Missing()
	if missing == nil {
		missing = []metadata.Field{}
	}
	h.response.Success(c, gin.H{
		"metadata": meta,
		"missing":  missing,
	})
}

// Preview shows how the upload would be cut without calling the text
// service: the located section, its chunks and the requirements text.
func (h *Handler) Preview(c *gin.Context) {
	src, ok := h.readUpload(c)
	if !ok {
		return
	}
	plan, err := h.pipeline.Prepare(src.Text())
	if err != nil {
		h.pipelineError(c, err, "")
		return
	}
	h.response.Success(c, plan)
}

func (h *Handler) ListRuns(c *gin.Context) {
	if h.history == nil {
		h.response.Error(c, http.StatusNotFound, ErrorHistoryDisabled, "История запусков отключена.")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := h.history.ListRuns(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("list runs", zap.Error(err))
		h.response.InternalError(c, "Не удалось прочитать историю.")
		return
	}
	if runs == nil {
		runs = []storage.RunRecord{}
	}
	h.response.Success(c, runs)
}

func (h *Handler) GetRun(c *gin.Context) {
	if h.history == nil {
		h.response.Error(c, http.StatusNotFound, ErrorHistoryDisabled, "История запусков отключена.")
		return
	}
	id := c.Param("id")
	run, err := h.history.GetRun(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		h.response.NotFound(c, "Запуск не найден.")
		return
	}
	if err != nil {
		h.logger.Error("get run", zap.String("run_id", id), zap.Error(err))
		h.response.InternalError(c, "Не удалось прочитать историю.")
		return
	}
	chunks, err := h.history.RunChunks(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("run chunks", zap.String("run_id", id), zap.Error(err))
		h.response.InternalError(c, "Не удалось прочитать историю.")
		return
	}
	h.response.Success(c, gin.H{"run": run, "chunks": chunks})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
