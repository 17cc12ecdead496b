package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notbrokker/notbrokker-property-api-sub001/acquire"
	"github.com/notbrokker/notbrokker-property-api-sub001/cache"
	"github.com/notbrokker/notbrokker-property-api-sub001/failure"
	"github.com/notbrokker/notbrokker-property-api-sub001/portal"
	"github.com/notbrokker/notbrokker-property-api-sub001/shield"
)

type fakeAcquirer struct {
	layer    *cache.Layer
	registry *portal.Registry
	res      *acquire.Result
	items    []acquire.Result
	err      error
	gotURL   string
	criteria acquire.Criteria
}

func (f *fakeAcquirer) Extract(ctx context.Context, url string) (*acquire.Result, error) {
	f.gotURL = url
	return f.res, f.err
}

func (f *fakeAcquirer) Search(ctx context.Context, c acquire.Criteria) ([]acquire.Result, error) {
	f.criteria = c
	return f.items, f.err
}

func (f *fakeAcquirer) ClassifyPortal(url string) portal.ID { return f.Registry().Classify(url) }

func (f *fakeAcquirer) Registry() *portal.Registry {
	if f.registry == nil {
		return portal.Default()
	}
	return f.registry
}

func (f *fakeAcquirer) Cache() *cache.Layer { return f.layer }

func mustResult(t *testing.T, data string) acquire.Result {
	t.Helper()
	var r acquire.Result
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		t.Fatal(err)
	}
	return r
}

const casaJSON = `{"fields":{"titulo":"Casa en Las Condes","precio":"UF 12.500"},"success":true,"portal":"unknown","url":"https://www.corredora.cl/1","mode":"detail"}`

type harness struct {
	fake *fakeAcquirer
	reg  *prometheus.Registry
	h    http.Handler
}

func newHarness(t *testing.T, limiter *shield.RateLimiter) *harness {
	t.Helper()
	reg := prometheus.NewRegistry()
	fake := &fakeAcquirer{layer: cache.New(cache.Config{Registerer: reg})}
	return &harness{
		fake: fake,
		reg:  reg,
		h:    NewRouter(fake, Options{Limiter: limiter, Gatherer: reg}),
	}
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return m
}

func TestExtract_OK(t *testing.T) {
	h := newHarness(t, nil)
	res := mustResult(t, casaJSON)
	h.fake.res = &res

	rec := h.do(http.MethodPost, "/extract", `{"url":"https://www.corredora.cl/1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}
	body := decodeBody(t, rec)
	fields, _ := body["fields"].(map[string]any)
	if fields["titulo"] != "Casa en Las Condes" || body["success"] != true {
		t.Errorf("body = %v", body)
	}
	if h.fake.gotURL != "https://www.corredora.cl/1" {
		t.Errorf("url = %q", h.fake.gotURL)
	}
}

func TestExtract_FailureRendersKindAndCode(t *testing.T) {
	// WHAT: a failure record becomes {"error": kind, "message"} with its code.
	h := newHarness(t, nil)
	h.fake.err = failure.New(failure.NotFound, failure.Context{URL: "https://x.cl/1"})

	rec := h.do(http.MethodPost, "/extract", `{"url":"https://x.cl/1"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "NotFound" || body["message"] == "" || body["url"] != "https://x.cl/1" {
		t.Errorf("body = %v", body)
	}
}

func TestExtract_PlainErrorClassified(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.err = errors.New("something broke")
	rec := h.do(http.MethodPost, "/extract", `{"url":"https://x.cl/1"}`)
	if rec.Code != http.StatusInternalServerError || decodeBody(t, rec)["error"] != "Internal" {
		t.Errorf("status %d body %s", rec.Code, rec.Body)
	}
}

func TestExtract_BadBody(t *testing.T) {
	h := newHarness(t, nil)
	for _, body := range []string{`{`, `{"link":"x"}`, `[]`} {
		rec := h.do(http.MethodPost, "/extract", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", body, rec.Code)
		}
	}
}

func TestSearch(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.items = []acquire.Result{mustResult(t, casaJSON), mustResult(t, casaJSON)}

	rec := h.do(http.MethodPost, "/search", `{"portal":"portalinmobiliario","operation":"venta","property_type":"casa","location":"Las Condes","limit":5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}
	if n := decodeBody(t, rec)["count"]; n != float64(2) {
		t.Errorf("count = %v", n)
	}
	want := acquire.Criteria{Portal: portal.PortalInmobiliario, Operation: "venta", PropertyType: "casa", Location: "Las Condes", Limit: 5}
	if h.fake.criteria != want {
		t.Errorf("criteria = %+v", h.fake.criteria)
	}
}

func TestSearch_Failure(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.err = failure.New(failure.InsufficientData, failure.Context{})
	rec := h.do(http.MethodPost, "/search", `{"portal":"yapo","location":"santiago"}`)
	if rec.Code != http.StatusUnprocessableEntity || decodeBody(t, rec)["error"] != "InsufficientData" {
		t.Errorf("status %d body %s", rec.Code, rec.Body)
	}
}

func TestPortal(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(http.MethodGet, "/portal?url=https://www.portalinmobiliario.com/MLC-1", "")
	body := decodeBody(t, rec)
	if body["portal"] != "portalinmobiliario" || body["name"] != "Portal Inmobiliario" || body["supported"] != true {
		t.Errorf("body = %v", body)
	}

	rec = h.do(http.MethodGet, "/portal?url=https://example.org/x", "")
	if body := decodeBody(t, rec); body["portal"] != "unknown" || body["supported"] != false {
		t.Errorf("body = %v", body)
	}

	if rec := h.do(http.MethodGet, "/portal", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("missing url: status = %d", rec.Code)
	}
}

func TestPortals(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(http.MethodGet, "/portals", "")
	var out []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != len(portal.Default().IDs()) {
		t.Errorf("portals = %d", len(out))
	}
}

func TestPortalEndpoints_UseServiceRegistry(t *testing.T) {
	// WHAT: /portal and /portals answer from the service's own profiles.
	// WHY: a custom profile table must not disagree with what Extract uses.
	reg, err := portal.Load([]byte("profiles:\n  - id: demo\n    name: Demo Propiedades\n    domains: [www.demo.cl]\n"))
	if err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, nil)
	h.fake.registry = reg

	body := decodeBody(t, h.do(http.MethodGet, "/portal?url=https://www.demo.cl/casa-1", ""))
	if body["portal"] != "demo" || body["name"] != "Demo Propiedades" || body["supported"] != true {
		t.Errorf("portal body = %v", body)
	}

	var out []map[string]any
	if err := json.Unmarshal(h.do(http.MethodGet, "/portals", "").Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0]["id"] != "demo" {
		t.Errorf("portals = %v", out)
	}
}

func TestCacheEndpoints(t *testing.T) {
	// WHAT: stats reflect writes; clearing by category and globally works.
	h := newHarness(t, nil)
	ctx := context.Background()
	h.fake.layer.Set(ctx, cache.CategoryExtraction, "a", []byte(`{}`), 0)
	h.fake.layer.Set(ctx, cache.CategoryExtraction, "b", []byte(`{}`), 0)
	h.fake.layer.Set(ctx, cache.CategorySearch, "c", []byte(`[]`), 0)

	rec := h.do(http.MethodGet, "/cache/stats?category=extraction", "")
	var st cache.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Local.Sets != 2 || st.LocalEntries != 3 || st.Backend != "none" {
		t.Errorf("stats = %+v", st)
	}

	rec = h.do(http.MethodDelete, "/cache/extraction", "")
	if n := decodeBody(t, rec)["removed"]; n != float64(2) {
		t.Errorf("removed = %v", n)
	}
	rec = h.do(http.MethodDelete, "/cache", "")
	if n := decodeBody(t, rec)["removed"]; n != float64(1) {
		t.Errorf("removed = %v", n)
	}
}

func TestMetrics(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.layer.Set(context.Background(), cache.CategorySearch, "k", []byte(`[]`), 0)
	rec := h.do(http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "propacq_cache_operations_total") {
		t.Errorf("status %d body %.200s", rec.Code, rec.Body)
	}
}

func TestRateLimitedExtract(t *testing.T) {
	// WHAT: acquisition endpoints are throttled; inspection endpoints are not.
	h := newHarness(t, shield.NewRateLimiter(shield.RateConfig{PerMinute: 1, Burst: 1}))
	res := mustResult(t, casaJSON)
	h.fake.res = &res

	if rec := h.do(http.MethodPost, "/extract", `{"url":"https://x.cl/1"}`); rec.Code != http.StatusOK {
		t.Fatalf("first = %d", rec.Code)
	}
	if rec := h.do(http.MethodPost, "/extract", `{"url":"https://x.cl/1"}`); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second = %d, want 429", rec.Code)
	}
	if rec := h.do(http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health = %d", rec.Code)
	}
}

func TestHeadHealth(t *testing.T) {
	h := newHarness(t, nil)
	if rec := h.do(http.MethodHead, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("HEAD /health = %d", rec.Code)
	}
}
