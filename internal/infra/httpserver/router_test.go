package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appanalysis "github.com/bryanwahyu/fp16-analyzer/internal/application/analysis"
	domain "github.com/bryanwahyu/fp16-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/fp16-analyzer/internal/infra/cache"
)

type fakeWorkspaces struct {
	acquired int
	released int
}

func (f *fakeWorkspaces) Acquire(_ context.Context, req domain.Request) (*domain.Workspace, error) {
	f.acquired++
	return &domain.Workspace{
		ID:           domain.AnalysisID(uuid.NewString()),
		Dir:          "/nonexistent",
		SourceFile:   domain.SourceFileName(req.OriginalName),
		OriginalName: req.OriginalName,
	}, nil
}

func (f *fakeWorkspaces) Release(context.Context, *domain.Workspace) error {
	f.released++
	return nil
}

type fakeInvoker struct {
	res domain.InvocationResult
	err error
}

func (f fakeInvoker) Invoke(context.Context, *domain.Workspace) (domain.InvocationResult, error) {
	return f.res, f.err
}

type fakeCollector struct{ arts domain.Artifacts }

func (f fakeCollector) Collect(context.Context, *domain.Workspace) domain.Artifacts { return f.arts }

func strPtr(s string) *string { return &s }

const demotedSrc = "float a = 1.0f;\n__fp16 b = 2.0f;\n"

func newTestRouter(t *testing.T, inv fakeInvoker) (http.Handler, *fakeWorkspaces) {
	t.Helper()
	store, err := cache.NewResultStore(16)
	require.NoError(t, err)
	ws := &fakeWorkspaces{}
	svc := &appanalysis.Service{
		Workspaces: ws,
		Invoker:    inv,
		Collector: fakeCollector{arts: domain.Artifacts{
			DemotedCode:  strPtr("__fp16 a = 1.0f;\n__fp16 b = 2.0f;\n"),
			MemoryReport: strPtr("VARIABLES:\n  Successfully demoted: 2\n"),
			FloatMapRaw:  strPtr(`[{"value": inf, "location": "source.c:1, col 7", "safe": true}]`),
		}},
		Store: store,
	}
	h := NewRouter(svc, Options{
		MaxUploadBytes:    1 << 10,
		AllowedExtensions: []string{".c", ".cpp"},
		CORSOrigins:       []string{"*"},
	}, nil)
	return h, ws
}

func upload(t *testing.T, field, filename string, body []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = fw.Write(body)
		require.NoError(t, err)
	} else {
		require.NoError(t, mw.WriteField("note", "no file"))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/analyze", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestAnalyze_Success(t *testing.T) {
	h, ws := newTestRouter(t, fakeInvoker{res: domain.InvocationResult{Success: true, Stdout: "ok"}})

	rec := serve(h, upload(t, UploadField, "demo.c", []byte(demotedSrc)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res domain.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "demo.c", res.OriginalFilename)
	assert.Equal(t, demotedSrc, res.OriginalCode)
	assert.Equal(t, "ok", res.PluginOutput.Stdout)
	require.Len(t, res.Analysis.JSONAnalysis, 1)
	assert.Equal(t, domain.FlexString("Infinity"), res.Analysis.JSONAnalysis[0].Value)
	v, _ := res.Analysis.MemoryReport.Variables.Get(domain.KeySuccessfullyDemoted)
	assert.Equal(t, "2", v)
	require.Len(t, res.Analysis.Differences, 1)
	assert.Equal(t, domain.DiffDemotion, res.Analysis.Differences[0].Kind)
	assert.Equal(t, 1, ws.acquired)
	assert.Equal(t, 1, ws.released)

	got := serve(h, httptest.NewRequest(http.MethodGet, "/v1/analyses/"+string(res.ID), nil))
	assert.Equal(t, http.StatusOK, got.Code)

	latest := serve(h, httptest.NewRequest(http.MethodGet, "/v1/analyses/latest?limit=5", nil))
	assert.Equal(t, http.StatusOK, latest.Code)
	var list []domain.Result
	require.NoError(t, json.Unmarshal(latest.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestAnalyze_Admission(t *testing.T) {
	tests := []struct {
		name string
		req  func(t *testing.T) *http.Request
		want string
	}{
		{
			name: "no file",
			req:  func(t *testing.T) *http.Request { return upload(t, "", "", nil) },
			want: "No file uploaded",
		},
		{
			name: "wrong field",
			req:  func(t *testing.T) *http.Request { return upload(t, "file", "a.c", []byte("int x;")) },
			want: "No file uploaded",
		},
		{
			name: "wrong extension",
			req:  func(t *testing.T) *http.Request { return upload(t, UploadField, "a.py", []byte("x = 1")) },
			want: "Only C/C++ files are allowed!",
		},
		{
			name: "too large",
			req: func(t *testing.T) *http.Request {
				return upload(t, UploadField, "a.c", bytes.Repeat([]byte("f"), 2<<10))
			},
			want: "File too large. Maximum size is 1KB.",
		},
		{
			name: "far too large",
			req: func(t *testing.T) *http.Request {
				return upload(t, UploadField, "a.c", bytes.Repeat([]byte("f"), 256<<10))
			},
			want: "File too large. Maximum size is 1KB.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, ws := newTestRouter(t, fakeInvoker{res: domain.InvocationResult{Success: true}})
			rec := serve(h, tt.req(t))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeError(t, rec)
			assert.False(t, body.Success)
			assert.Equal(t, tt.want, body.Error)
			assert.Zero(t, ws.acquired, "rejected uploads never reach the pipeline")
		})
	}
}

func TestAnalyze_InfrastructureErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "timeout", err: fmt.Errorf("%w after 30s", domain.ErrToolTimeout), status: http.StatusGatewayTimeout},
		{name: "spawn", err: fmt.Errorf("%w: spawn clang: not found", domain.ErrInfrastructure), status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, ws := newTestRouter(t, fakeInvoker{err: tt.err})
			rec := serve(h, upload(t, UploadField, "a.c", []byte("float x;")))

			assert.Equal(t, tt.status, rec.Code)
			body := decodeError(t, rec)
			assert.False(t, body.Success)
			assert.Contains(t, body.Error, tt.err.Error())
			assert.Equal(t, 1, ws.released)
		})
	}
}

func TestGetAnalysis_Errors(t *testing.T) {
	h, _ := newTestRouter(t, fakeInvoker{})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/v1/analyses/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/v1/analyses/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.ErrNotFound.Error(), decodeError(t, rec).Error)
}

func TestDiffEndpoint(t *testing.T) {
	h, _ := newTestRouter(t, fakeInvoker{})

	body := `{"original":"float a;\nint b;\n","transformed":"__fp16 a;\nlong b;\n"}`
	rec := serve(h, httptest.NewRequest(http.MethodPost, "/v1/diff", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp diffResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Demotions)
	require.Len(t, resp.Differences, 2)
	assert.Equal(t, domain.DiffOther, resp.Differences[1].Kind)

	rec = serve(h, httptest.NewRequest(http.MethodPost, "/v1/diff", strings.NewReader(`{"original":"x","transformed":"x"}`)))
	assert.JSONEq(t, `{"differences":[],"demotions":0}`, rec.Body.String())

	rec = serve(h, httptest.NewRequest(http.MethodPost, "/v1/diff", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportEndpoint(t *testing.T) {
	h, _ := newTestRouter(t, fakeInvoker{})

	report := "MEMORY USAGE:\n  Original memory usage: 100 bytes\n  After demotion: 60 bytes\n"
	rec := serve(h, httptest.NewRequest(http.MethodPost, "/v1/report", strings.NewReader(report)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Report  map[string]map[string]string `json:"report"`
		Savings domain.Savings               `json:"savings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "100 bytes", resp.Report["memory"][domain.KeyOriginalMemoryUsage])
	assert.Equal(t, int64(40), resp.Savings.SavedBytes)
	assert.InDelta(t, 40.0, resp.Savings.Percent, 0.001)
}

func TestBannerAndProbes(t *testing.T) {
	h, _ := newTestRouter(t, fakeInvoker{})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.JSONEq(t, `{"message":"FP16 Demotion Plugin API Server"}`, rec.Body.String())

	for _, p := range []string{"/health", "/ready", "/live", "/metrics"} {
		rec := serve(h, httptest.NewRequest(http.MethodGet, p, nil))
		assert.Equal(t, http.StatusOK, rec.Code, p)
	}
}
