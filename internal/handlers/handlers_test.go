package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/breed-check/internal/analysis"
	"github.com/example/breed-check/internal/breeds"
	"github.com/example/breed-check/internal/export"
	"github.com/example/breed-check/internal/grpchealth"
	"github.com/example/breed-check/internal/prediction"
	"github.com/example/breed-check/internal/upload"
)

const testMaxUpload = 1 << 20

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

type stubPredictor struct {
	outcome *prediction.Outcome
	err     error
	calls   int
}

func (s *stubPredictor) Predict(ctx context.Context, image *upload.Image) (*prediction.Outcome, error) {
	s.calls++
	return s.outcome, s.err
}

type fixedStatus struct{ st grpchealth.Status }

func (f fixedStatus) Status() grpchealth.Status { return f.st }

func newTestRouter(t *testing.T, predictor prediction.Predictor, opts Options) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	catalog, err := breeds.Default()
	if err != nil {
		t.Fatalf("failed to load catalog: %v", err)
	}
	analyzer := analysis.NewAnalyzer(analysis.NewMemoryStore(0), predictor, catalog, zap.NewNop())
	validator := upload.NewValidator(testMaxUpload, nil)
	status := fixedStatus{st: grpchealth.Status{Healthy: false, CheckedAt: time.Now()}}

	router := gin.New()
	RegisterRoutes(router, New(analyzer, validator, catalog, status, opts, zap.NewNop()))
	return router
}

func serviceOutcome(breed string, confidence float64, alts ...prediction.Alternative) *prediction.Outcome {
	if alts == nil {
		alts = []prediction.Alternative{}
	}
	return &prediction.Outcome{
		Prediction: &prediction.BreedPrediction{PrimaryBreed: breed, Confidence: confidence, Alternatives: alts},
		Source:     prediction.SourceService,
	}
}

func TestAnalyzeRejectsLargeUpload(t *testing.T) {
	predictor := &stubPredictor{outcome: serviceOutcome("Gir", 91.2)}
	router := newTestRouter(t, predictor, Options{})

	body, contentType := buildMultipartBody(t, "image/png", bytes.Repeat([]byte("a"), testMaxUpload+1))
	resp := doRequest(router, http.MethodPost, "/api/analyze", body, contentType, nil)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
	if predictor.calls != 0 {
		t.Fatalf("expected no prediction call, got %d", predictor.calls)
	}
}

func TestAnalyzeChecksTypeBeforeSizeForLargeBodies(t *testing.T) {
	predictor := &stubPredictor{outcome: serviceOutcome("Gir", 91.2)}
	router := newTestRouter(t, predictor, Options{})
	payload := bytes.Repeat([]byte("a"), 3*testMaxUpload)

	body, contentType := buildMultipartBody(t, "image/gif", payload)
	resp := doRequest(router, http.MethodPost, "/api/analyze", body, contentType, nil)
	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d for oversized gif, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}

	body, contentType = buildMultipartBody(t, "image/png", payload)
	resp = doRequest(router, http.MethodPost, "/api/analyze", body, contentType, nil)
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d for oversized png, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "smaller than 1MB") {
		t.Fatalf("unexpected error body %s", resp.Body.String())
	}
	if predictor.calls != 0 {
		t.Fatalf("expected no prediction call, got %d", predictor.calls)
	}
}

func TestAnalyzeRejectsBodyOverRequestLimit(t *testing.T) {
	predictor := &stubPredictor{outcome: serviceOutcome("Gir", 91.2)}
	router := newTestRouter(t, predictor, Options{})

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("notes", strings.Repeat("a", 3*testMaxUpload)); err != nil {
		t.Fatalf("failed to write field: %v", err)
	}
	part, err := writer.CreateFormFile("image", "cow.png")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	_, _ = part.Write(pngBytes)
	_ = writer.Close()

	resp := doRequest(router, http.MethodPost, "/api/analyze", body, writer.FormDataContentType(), nil)
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
	if predictor.calls != 0 {
		t.Fatalf("expected no prediction call, got %d", predictor.calls)
	}
}

func TestAnalyzeRejectsUnsupportedContentType(t *testing.T) {
	predictor := &stubPredictor{outcome: serviceOutcome("Gir", 91.2)}
	router := newTestRouter(t, predictor, Options{})

	body, contentType := buildMultipartBody(t, "image/gif", []byte("GIF89a"))
	resp := doRequest(router, http.MethodPost, "/api/analyze", body, contentType, nil)

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload["error"] != "Please upload a valid image file (JPG, PNG)" {
		t.Fatalf("unexpected error message %v", payload["error"])
	}
}

func TestAnalyzeRequiresImage(t *testing.T) {
	router := newTestRouter(t, &stubPredictor{}, Options{})

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	_ = writer.WriteField("other", "value")
	_ = writer.Close()

	resp := doRequest(router, http.MethodPost, "/api/analyze", body, writer.FormDataContentType(), nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestAnalyzeJSONReturnsServerPrediction(t *testing.T) {
	router := newTestRouter(t, &stubPredictor{outcome: serviceOutcome("Gir", 91.2)}, Options{})

	body, contentType := buildMultipartBody(t, "image/png", pngBytes)
	resp := doRequest(router, http.MethodPost, "/api/analyze", body, contentType, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var payload struct {
		Success bool                       `json:"success"`
		Data    prediction.BreedPrediction `json:"data"`
		Result  struct {
			Fallback bool              `json:"fallback"`
			Source   prediction.Source `json:"source"`
			Info     *breeds.Info      `json:"breed_info"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if !payload.Success || payload.Data.PrimaryBreed != "Gir" || payload.Data.Confidence != 91.2 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.Result.Fallback || payload.Result.Source != prediction.SourceService {
		t.Fatalf("unexpected source %+v", payload.Result)
	}
	if payload.Result.Info == nil || payload.Result.Info.Origin != "Gujarat, India" {
		t.Fatalf("expected breed info, got %+v", payload.Result.Info)
	}
}

func TestAnalyzePageRendersBreedDetails(t *testing.T) {
	outcome := serviceOutcome("Murrah", 88.04,
		prediction.Alternative{Breed: "Nili_Ravi", Confidence: 40.26},
		prediction.Alternative{Breed: "Gir", Confidence: 31.5},
	)
	router := newTestRouter(t, &stubPredictor{outcome: outcome}, Options{})

	body, contentType := buildMultipartBody(t, "image/png", pngBytes)
	resp := doRequest(router, http.MethodPost, "/analyze", body, contentType, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	doc := parseHTML(t, resp)
	if got := strings.TrimSpace(doc.Find(".breed-name").First().Text()); got != "Murrah" {
		t.Fatalf("unexpected breed name %q", got)
	}
	if got := doc.Find(".confidence").First().Text(); !strings.Contains(got, "88.0%") {
		t.Fatalf("unexpected confidence %q", got)
	}
	if got := doc.Find(".char-item").Length(); got != 5 {
		t.Fatalf("expected 5 characteristics, got %d", got)
	}
	alts := doc.Find(".alternative-breed")
	if alts.Length() != 2 || !strings.Contains(alts.First().Text(), "Nili Ravi") {
		t.Fatalf("unexpected alternatives %q", alts.Text())
	}
	src, _ := doc.Find("img.preview-image").Attr("src")
	if !strings.HasPrefix(src, "data:image/png;base64,") {
		t.Fatalf("unexpected preview src %q", src)
	}
}

func TestResultPageHandlesBreedWithoutDetails(t *testing.T) {
	router := newTestRouter(t, &stubPredictor{outcome: serviceOutcome("Red_Sindhi", 77)}, Options{})

	body, contentType := buildMultipartBody(t, "image/jpeg", pngBytes)
	resp := doRequest(router, http.MethodPost, "/analyze", body, contentType, nil)

	doc := parseHTML(t, resp)
	details := doc.Find(".breed-details").Text()
	if !strings.Contains(details, "Indian Breed Identified") || !strings.Contains(details, "Dairy") {
		t.Fatalf("expected generic breed block, got %q", details)
	}
	if got := strings.TrimSpace(doc.Find(".breed-name").Text()); got != "Red Sindhi" {
		t.Fatalf("unexpected name %q", got)
	}
}

func TestFallbackNoticeIsConfigurable(t *testing.T) {
	mock := &prediction.Outcome{
		Prediction: &prediction.BreedPrediction{PrimaryBreed: "Gir", Confidence: 75, Alternatives: []prediction.Alternative{}},
		Source:     prediction.SourceMock,
		Fallback:   true,
	}

	for _, show := range []bool{false, true} {
		router := newTestRouter(t, &stubPredictor{outcome: mock}, Options{ShowFallbackNotice: show})
		body, contentType := buildMultipartBody(t, "image/png", pngBytes)
		resp := doRequest(router, http.MethodPost, "/analyze", body, contentType, nil)

		doc := parseHTML(t, resp)
		if got := doc.Find(".fallback-notice").Length() == 1; got != show {
			t.Fatalf("show=%v: unexpected notice presence %v", show, got)
		}
	}
}

func TestAnalyzePageShowsValidationError(t *testing.T) {
	router := newTestRouter(t, &stubPredictor{}, Options{})

	body, contentType := buildMultipartBody(t, "text/plain", []byte("hello"))
	resp := doRequest(router, http.MethodPost, "/analyze", body, contentType, nil)
	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", resp.Code)
	}
	doc := parseHTML(t, resp)
	if got := doc.Find(".error-message").Text(); !strings.Contains(got, "JPG, PNG") {
		t.Fatalf("unexpected error text %q", got)
	}
}

func TestSessionFlowResultExportAndReset(t *testing.T) {
	router := newTestRouter(t, &stubPredictor{outcome: serviceOutcome("Sahiwal", 83.3)}, Options{})

	resp := doRequest(router, http.MethodGet, "/api/result", nil, "", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before analysis, got %d", resp.Code)
	}
	cookies := resp.Result().Cookies()
	if len(cookies) == 0 || cookies[0].Name != sessionCookie {
		t.Fatalf("expected session cookie, got %v", cookies)
	}

	body, contentType := buildMultipartBody(t, "image/png", pngBytes)
	if resp := doRequest(router, http.MethodPost, "/api/analyze", body, contentType, cookies); resp.Code != http.StatusOK {
		t.Fatalf("analyze failed: %d", resp.Code)
	}

	resp = doRequest(router, http.MethodGet, "/api/result", nil, "", cookies)
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"primary_breed":"Sahiwal"`) {
		t.Fatalf("unexpected result response %d %s", resp.Code, resp.Body.String())
	}

	other := doRequest(router, http.MethodGet, "/api/result", nil, "", nil)
	if other.Code != http.StatusNotFound {
		t.Fatalf("expected other sessions to be isolated, got %d", other.Code)
	}

	resp = doRequest(router, http.MethodGet, "/export", nil, "", cookies)
	if resp.Code != http.StatusOK {
		t.Fatalf("export failed: %d", resp.Code)
	}
	disposition := resp.Header().Get("Content-Disposition")
	if !strings.Contains(disposition, "cattle_breed_analysis_") || !strings.HasSuffix(disposition, `.json"`) {
		t.Fatalf("unexpected disposition %q", disposition)
	}
	p, _, err := export.Parse(resp.Body.Bytes())
	if err != nil || p.PrimaryBreed != "Sahiwal" || p.Confidence != 83.3 {
		t.Fatalf("unexpected export %+v %v", p, err)
	}

	resp = doRequest(router, http.MethodPost, "/reset", nil, "", cookies)
	if resp.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect after reset, got %d", resp.Code)
	}
	if resp := doRequest(router, http.MethodGet, "/export", nil, "", cookies); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after reset, got %d", resp.Code)
	}
}

func TestIndexListsSupportedBreeds(t *testing.T) {
	router := newTestRouter(t, &stubPredictor{}, Options{})

	resp := doRequest(router, http.MethodGet, "/", nil, "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	doc := parseHTML(t, resp)
	if got := doc.Find(".breed-tag").Length(); got != 74 {
		t.Fatalf("expected 74 breed tags, got %d", got)
	}
	if got := doc.Find(".breed-tag.buffalo").Length(); got != 18 {
		t.Fatalf("expected 18 buffalo tags, got %d", got)
	}
	if doc.Find(".upstream-status").Length() != 1 {
		t.Fatal("expected offline upstream notice")
	}
}

func TestPreviewAndHealth(t *testing.T) {
	router := newTestRouter(t, &stubPredictor{}, Options{MockFallback: true})

	body, contentType := buildMultipartBody(t, "image/png", pngBytes)
	resp := doRequest(router, http.MethodPost, "/api/upload", body, contentType, nil)
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "data:image/png;base64,") {
		t.Fatalf("unexpected preview response %d %s", resp.Code, resp.Body.String())
	}

	resp = doRequest(router, http.MethodGet, "/health", nil, "", nil)
	var payload struct {
		Success bool `json:"success"`
		Data    struct {
			MockFallback bool              `json:"mock_fallback"`
			Upstream     grpchealth.Status `json:"upstream"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if !payload.Success || !payload.Data.MockFallback || payload.Data.Upstream.Healthy {
		t.Fatalf("unexpected health payload %+v", payload)
	}
}

func TestMetricsCountsAnalyses(t *testing.T) {
	router := newTestRouter(t, &stubPredictor{outcome: serviceOutcome("Gir", 90)}, Options{})

	body, contentType := buildMultipartBody(t, "image/png", pngBytes)
	doRequest(router, http.MethodPost, "/api/analyze", body, contentType, nil)

	resp := doRequest(router, http.MethodGet, "/api/metrics", nil, "", nil)
	var payload struct {
		Data analysis.MetricsSummary `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload.Data.TotalRequests != 1 || payload.Data.ServiceResults != 1 || payload.Data.AverageConfidence != 90 {
		t.Fatalf("unexpected metrics %+v", payload.Data)
	}
}

func doRequest(router *gin.Engine, method, path string, body *bytes.Buffer, contentType string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func parseHTML(t *testing.T, resp *httptest.ResponseRecorder) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		t.Fatalf("failed to parse html: %v", err)
	}
	return doc
}

func buildMultipartBody(t *testing.T, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="upload"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}
