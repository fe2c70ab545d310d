package handlers

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/breed-check/internal/analysis"
	"github.com/example/breed-check/internal/breeds"
	"github.com/example/breed-check/internal/export"
	"github.com/example/breed-check/internal/grpchealth"
	"github.com/example/breed-check/internal/logging"
	"github.com/example/breed-check/internal/upload"
)

//go:embed templates/*.html
var templateFS embed.FS

// multipartOverhead is the slack allowed above the image limit for form framing
// and other fields.
const multipartOverhead = 1 << 20

// Analyzer is the analysis flow used by the handlers.
type Analyzer interface {
	Analyze(ctx context.Context, sessionID string, image *upload.Image) (*analysis.Analysis, error)
	LastResult(ctx context.Context, sessionID string) (*analysis.Analysis, error)
	Reset(ctx context.Context, sessionID string) error
	Export(ctx context.Context, sessionID string) (string, []byte, error)
	MetricsSummary() analysis.MetricsSummary
}

// StatusSource reports the last known upstream health.
type StatusSource interface {
	Status() grpchealth.Status
}

// Options tune presentation.
type Options struct {
	// ShowFallbackNotice marks synthesized predictions on the result page.
	ShowFallbackNotice bool
	// MockFallback is reported on /health.
	MockFallback       bool
	SessionTTL         time.Duration
}

// Handler serves the upload page, the analysis flow and the JSON API.
type Handler struct {
	analyzer  Analyzer
	validator *upload.Validator
	catalog   *breeds.Catalog
	status    StatusSource
	opts      Options
	logger    *zap.Logger
}

// New constructs a handler. status may be nil when upstream health is not tracked.
func New(analyzer Analyzer, validator *upload.Validator, catalog *breeds.Catalog, status StatusSource, opts Options, logger *zap.Logger) *Handler {
	return &Handler{
		analyzer:  analyzer,
		validator: validator,
		catalog:   catalog,
		status:    status,
		opts:      opts,
		logger:    logger.Named("handlers"),
	}
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, h *Handler) {
	funcs := template.FuncMap{"join": strings.Join}
	router.SetHTMLTemplate(template.Must(template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html")))

	router.GET("/health", h.health)

	web := router.Group("/", SessionMiddleware(h.opts.SessionTTL))
	web.GET("/", h.index)
	web.POST("/analyze", h.analyze)
	web.POST("/reset", h.reset)
	web.GET("/export", h.export)

	api := router.Group("/api", SessionMiddleware(h.opts.SessionTTL))
	api.GET("/breeds", h.listBreeds)
	api.POST("/upload", h.preview)
	api.POST("/analyze", h.analyzeJSON)
	api.GET("/result", h.lastResult)
	api.POST("/reset", h.resetJSON)
	api.GET("/metrics", h.metrics)
}

func (h *Handler) health(c *gin.Context) {
	body := gin.H{
		"success":   true,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data": gin.H{
			"status":        "healthy",
			"mock_fallback": h.opts.MockFallback,
		},
	}
	if h.status != nil {
		body["data"].(gin.H)["upstream"] = h.status.Status()
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) index(c *gin.Context) {
	data := gin.H{
		"Breeds":   h.catalog.Summaries(),
		"MaxMB":    h.validator.MaxBytes() >> 20,
		"Upstream": h.upstream(),
	}
	if last, err := h.analyzer.LastResult(c.Request.Context(), sessionID(c)); err == nil {
		view := newResultView(last, h.catalog, h.opts.ShowFallbackNotice)
		data["Result"] = &view
	}
	c.HTML(http.StatusOK, "index.html", data)
}

func (h *Handler) analyze(c *gin.Context) {
	img, status, msg := h.readImage(c)
	if img == nil {
		c.HTML(status, "index.html", gin.H{
			"Breeds": h.catalog.Summaries(),
			"MaxMB":  h.validator.MaxBytes() >> 20,
			"Error":  msg,
		})
		return
	}

	result, err := h.analyzer.Analyze(c.Request.Context(), sessionID(c), img)
	if err != nil {
		c.HTML(http.StatusBadGateway, "index.html", gin.H{
			"Breeds": h.catalog.Summaries(),
			"MaxMB":  h.validator.MaxBytes() >> 20,
			"Error":  "Analysis failed. Please try again.",
		})
		return
	}

	view := newResultView(result, h.catalog, h.opts.ShowFallbackNotice)
	c.HTML(http.StatusOK, "result.html", gin.H{
		"Result":     &view,
		"PreviewURI": template.URL(img.PreviewDataURI()),
		"Image":      img,
	})
}

func (h *Handler) analyzeJSON(c *gin.Context) {
	img, status, msg := h.readImage(c)
	if img == nil {
		c.JSON(status, gin.H{"success": false, "error": msg})
		return
	}

	result, err := h.analyzer.Analyze(c.Request.Context(), sessionID(c), img)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "prediction failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result.Prediction,
		"result":  newResultView(result, h.catalog, h.opts.ShowFallbackNotice),
	})
}

func (h *Handler) preview(c *gin.Context) {
	img, status, msg := h.readImage(c)
	if img == nil {
		c.JSON(status, gin.H{"success": false, "error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"filename":     img.Filename,
			"mime_type":    img.MimeType,
			"size_bytes":   img.SizeBytes,
			"display_size": img.DisplaySize(),
			"preview":      img.PreviewDataURI(),
		},
	})
}

func (h *Handler) lastResult(c *gin.Context) {
	result, err := h.analyzer.LastResult(c.Request.Context(), sessionID(c))
	if errors.Is(err, analysis.ErrNoResult) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "No results available"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to load result"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result.Prediction,
		"result":  newResultView(result, h.catalog, h.opts.ShowFallbackNotice),
	})
}

func (h *Handler) listBreeds(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"breeds": h.catalog.Summaries()}})
}

func (h *Handler) metrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": h.analyzer.MetricsSummary()})
}

func (h *Handler) export(c *gin.Context) {
	name, data, err := h.analyzer.Export(c.Request.Context(), sessionID(c))
	if errors.Is(err, analysis.ErrNoResult) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "No results to download"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to export result"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, export.ContentType, data)
}

func (h *Handler) reset(c *gin.Context) {
	if err := h.analyzer.Reset(c.Request.Context(), sessionID(c)); err != nil {
		c.HTML(http.StatusInternalServerError, "index.html", gin.H{
			"Breeds": h.catalog.Summaries(),
			"MaxMB":  h.validator.MaxBytes() >> 20,
			"Error":  "Unable to reset. Please try again.",
		})
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *Handler) resetJSON(c *gin.Context) {
	if err := h.analyzer.Reset(c.Request.Context(), sessionID(c)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to reset"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// readImage streams the "image" form part through the validator. The part's
// declared type is checked before its body is read, so an unsupported file is
// reported as such at any size. On failure it returns nil with the status and
// user-facing message to report; session state is untouched.
func (h *Handler) readImage(c *gin.Context) (*upload.Image, int, string) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.validator.MaxBytes()+multipartOverhead)

	mr, err := c.Request.MultipartReader()
	if err != nil {
		return nil, http.StatusBadRequest, "Please upload an image first"
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, http.StatusBadRequest, "Please upload an image first"
		}
		if err != nil {
			return h.readError(c, err)
		}
		if part.FormName() != "image" || part.FileName() == "" {
			part.Close()
			continue
		}

		img, err := h.validator.Validate(part.FileName(), part.Header.Get("Content-Type"), -1, part)
		part.Close()
		if err != nil {
			return h.readError(c, err)
		}
		return img, http.StatusOK, ""
	}
}

func (h *Handler) readError(c *gin.Context, err error) (*upload.Image, int, string) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, upload.ErrUnsupportedType):
		return nil, http.StatusUnsupportedMediaType, upload.UserMessage(err)
	case errors.Is(err, upload.ErrTooLarge):
		return nil, http.StatusRequestEntityTooLarge, upload.UserMessage(err)
	case errors.As(err, &maxErr):
		return nil, http.StatusRequestEntityTooLarge, upload.UserMessage(h.validator.LimitError(maxErr.Limit))
	default:
		logging.WithOperation(h.logger, "handlers.read_image", sessionID(c)).Warn("failed to read upload", zap.Error(err))
		return nil, http.StatusBadRequest, upload.UserMessage(err)
	}
}

func (h *Handler) upstream() *grpchealth.Status {
	if h.status == nil {
		return nil
	}
	st := h.status.Status()
	if st.CheckedAt.IsZero() {
		return nil
	}
	return &st
}
