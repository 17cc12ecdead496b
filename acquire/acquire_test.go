package acquire

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	_ "modernc.org/sqlite"

	"github.com/notbrokker/notbrokker-property-api-sub001/acquire/internal/extract"
	"github.com/notbrokker/notbrokker-property-api-sub001/acquire/internal/navigate"
	"github.com/notbrokker/notbrokker-property-api-sub001/cache"
	"github.com/notbrokker/notbrokker-property-api-sub001/failure"
	"github.com/notbrokker/notbrokker-property-api-sub001/idgen"
	"github.com/notbrokker/notbrokker-property-api-sub001/portal"
)

type fakePage struct {
	status int
	title  string
	final  string
	html   string
	navErr error
}

// fakeBrowser serves canned pages by URL. Unknown URLs fail like an
// unresolvable host.
type fakeBrowser struct {
	mu      sync.Mutex
	pages   map[string]fakePage
	sessErr error
	navs    int
	opened  int
	closed  int
}

func (b *fakeBrowser) NewSession(ctx context.Context) (Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sessErr != nil {
		return nil, b.sessErr
	}
	b.opened++
	return &fakeSession{b: b}, nil
}

func (b *fakeBrowser) counts() (navs, opened, closed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.navs, b.opened, b.closed
}

type fakeSession struct {
	b    *fakeBrowser
	page fakePage
	url  string
}

func (s *fakeSession) Navigate(ctx context.Context, url string) (int, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.navs++
	p, ok := s.b.pages[url]
	if !ok {
		return 0, errors.New("navigation failed: net::ERR_NAME_NOT_RESOLVED")
	}
	if p.navErr != nil {
		return 0, p.navErr
	}
	s.page, s.url = p, url
	return p.status, nil
}

func (s *fakeSession) WaitDOMReady(ctx context.Context) error { return nil }

func (s *fakeSession) WaitSelector(ctx context.Context, sel string) error {
	doc, err := extract.ParseHTMLString(s.page.html)
	if err == nil {
		if nodes, _ := doc.Find(sel); len(nodes) > 0 {
			return nil
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *fakeSession) ReadyState(ctx context.Context) (string, error) { return "complete", nil }

func (s *fakeSession) WaitIdle(ctx context.Context) error { return nil }

func (s *fakeSession) Info(ctx context.Context) (string, string, error) {
	if s.page.final != "" {
		return s.page.title, s.page.final, nil
	}
	return s.page.title, s.url, nil
}

func (s *fakeSession) Document(ctx context.Context) (extract.Node, error) {
	return extract.ParseHTMLString(s.page.html)
}

func (s *fakeSession) Close() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.closed++
	return nil
}

func publicLookup(host string) ([]string, error) { return []string{"93.184.216.34"}, nil }

func newTestService(t *testing.T, b Browser) *Service {
	t.Helper()
	cfg := Config{
		Navigation: navigate.Config{
			RetryDelay:      time.Millisecond,
			NavigateTimeout: time.Second,
			DOMReadyTimeout: 50 * time.Millisecond,
			SelectorTimeout: 20 * time.Millisecond,
			SettleDelay:     time.Millisecond,
			IdleTimeout:     10 * time.Millisecond,
		},
		Registerer: prometheus.NewRegistry(),
	}
	s := New(cfg, b, nil)
	s.guard.Lookup = publicLookup
	s.ids = idgen.Sequence("req")
	return s
}

const (
	listingURL = "https://www.corredora.cl/propiedad/casa-las-condes-123"
	searchURL  = "https://www.portalinmobiliario.com/venta/casa/las-condes"
)

const casaLasCondes = `<!DOCTYPE html>
<html><head><title>Casa en Las Condes | Corredora</title></head>
<body itemscope itemtype="https://schema.org/Residence">
  <h1>Casa en Las Condes</h1>
  <span class="price-tag">UF 12.500</span>
  <ul class="specs"><li>3 dormitorios</li><li>2 baños</li></ul>
  <div itemprop="address">Las Condes, Santiago</div>
</body></html>`

const searchPage = `<html><head><title>Casas en venta en Las Condes</title></head><body>
<ol class="ui-search-layout">
  <li class="ui-search-layout__item">
    <h3 class="poly-component__title"><a href="/MLC-1">Casa en El Golf</a></h3>
    <div class="poly-price__current"><span class="andes-money-amount">UF 21.000</span></div>
    <span class="poly-component__location">Las Condes, Santiago</span>
  </li>
  <li class="ui-search-layout__item">
    <h3 class="poly-component__title"><a href="/MLC-2">Casa en San Damián</a></h3>
    <ul><li class="poly-attributes_list__item">4 dormitorios</li></ul>
  </li>
  <li class="ui-search-layout__item"><span>Publicidad</span></li>
</ol></body></html>`

func TestExtract_Success(t *testing.T) {
	// WHAT: a typical listing yields its fields and is marked successful.
	b := &fakeBrowser{pages: map[string]fakePage{
		listingURL: {status: 200, title: "Casa en Las Condes | Corredora", html: casaLasCondes},
	}}
	s := newTestService(t, b)

	res, err := s.Extract(context.Background(), listingURL)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !res.Success {
		t.Error("Success = false")
	}
	want := map[string]string{
		extract.FieldTitulo:      "Casa en Las Condes",
		extract.FieldPrecio:      "UF 12.500",
		extract.FieldDormitorios: "3 dormitorios",
		extract.FieldBanos:       "2 baños",
		extract.FieldUbicacion:   "Las Condes, Santiago",
	}
	for k, v := range want {
		if got := res.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if res.Portal != portal.Unknown {
		t.Errorf("Portal = %q", res.Portal)
	}
}

func TestExtract_SecondCallServedFromCache(t *testing.T) {
	// WHAT: an identical second call performs zero navigations.
	// WHY: browser sessions are the expensive resource the cache protects.
	b := &fakeBrowser{pages: map[string]fakePage{
		listingURL: {status: 200, title: "Casa", html: casaLasCondes},
	}}
	s := newTestService(t, b)
	var trails [][]State
	var ids []string
	s.onDone = func(r *run) {
		trails = append(trails, r.trail)
		ids = append(ids, r.req.ID)
	}

	first, err := s.Extract(context.Background(), listingURL)
	if err != nil {
		t.Fatal(err)
	}
	navs, _, _ := b.counts()

	second, err := s.Extract(context.Background(), listingURL+"#fotos")
	if err != nil {
		t.Fatal(err)
	}
	if again, _, _ := b.counts(); again != navs {
		t.Errorf("navigations = %d after cached call, want %d", again, navs)
	}
	if second.Get(extract.FieldTitulo) != first.Get(extract.FieldTitulo) || !second.Success {
		t.Errorf("cached result differs: %+v", second)
	}
	if st := s.Cache().Stats(cache.CategoryExtraction); st.Local.Hits != 1 {
		t.Errorf("local hits = %d, want 1", st.Local.Hits)
	}
	if len(ids) != 2 || ids[0] == ids[1] {
		t.Errorf("request ids = %v, want two distinct", ids)
	}
	wantHit := []State{StateIdle, StateCacheLookup, StateCacheHit, StateDone}
	if len(trails) != 2 || !equalStates(trails[1], wantHit) {
		t.Errorf("trail = %v, want %v", trails, wantHit)
	}
	wantMiss := []State{
		StateIdle, StateCacheLookup, StateCacheMiss, StateNavigating, StateValidating,
		StateExtracting, StateContentValidating, StateCacheStore, StateDone,
	}
	if !equalStates(trails[0], wantMiss) {
		t.Errorf("trail = %v, want %v", trails[0], wantMiss)
	}
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestExtract_NotFoundStatus(t *testing.T) {
	// WHAT: a 404 document is NotFound even with a normal-looking title.
	b := &fakeBrowser{pages: map[string]fakePage{
		listingURL: {status: 404, title: "Casa en Las Condes", html: casaLasCondes},
	}}
	s := newTestService(t, b)

	_, err := s.Extract(context.Background(), listingURL)
	var rec *failure.Record
	if !errors.As(err, &rec) {
		t.Fatalf("err = %v, want *failure.Record", err)
	}
	if rec.Kind != failure.NotFound || rec.Code != 404 {
		t.Errorf("record = %+v", rec)
	}
	if rec.Stage != string(StateValidating) {
		t.Errorf("Stage = %q", rec.Stage)
	}
	if navs, _, _ := b.counts(); navs != 1 {
		t.Errorf("navigations = %d, want 1", navs)
	}
}

func TestExtract_FailuresAreNotCached(t *testing.T) {
	// WHAT: a rejected page is fetched again on the next call.
	b := &fakeBrowser{pages: map[string]fakePage{
		listingURL: {status: 404, html: casaLasCondes},
	}}
	s := newTestService(t, b)
	for range 2 {
		if _, err := s.Extract(context.Background(), listingURL); err == nil {
			t.Fatal("expected error")
		}
	}
	if navs, _, _ := b.counts(); navs != 2 {
		t.Errorf("navigations = %d, want 2", navs)
	}
}

func TestExtract_InvalidURL(t *testing.T) {
	// WHAT: malformed and private targets fail before a session opens.
	b := &fakeBrowser{}
	s := newTestService(t, b)
	for _, u := range []string{"", "ftp://example.com/x", "not a url", "http://127.0.0.1/admin"} {
		_, err := s.Extract(context.Background(), u)
		if failure.KindOf(err) != failure.InvalidURL {
			t.Errorf("%q: kind = %s, want InvalidUrl (err %v)", u, failure.KindOf(err), err)
		}
	}
	if _, opened, _ := b.counts(); opened != 0 {
		t.Errorf("sessions opened = %d, want 0", opened)
	}
}

func TestExtract_NotAPropertyPage(t *testing.T) {
	// WHAT: a page without any title is not a property page.
	b := &fakeBrowser{pages: map[string]fakePage{
		listingURL: {status: 200, html: `<html><body><p>Bienvenido</p></body></html>`},
	}}
	s := newTestService(t, b)
	_, err := s.Extract(context.Background(), listingURL)
	if k := failure.KindOf(err); k != failure.NotAPropertyPage {
		t.Errorf("kind = %s, want NotAPropertyPage (err %v)", k, err)
	}
}

func TestExtract_InsufficientData(t *testing.T) {
	// WHAT: a titled page without any useful field is InsufficientData.
	b := &fakeBrowser{pages: map[string]fakePage{
		listingURL: {status: 200, title: "Blog", html: `<html><head><title>Blog</title></head><body><h1>Noticias del mercado</h1><p>Texto.</p></body></html>`},
	}}
	s := newTestService(t, b)
	_, err := s.Extract(context.Background(), listingURL)
	if k := failure.KindOf(err); k != failure.InsufficientData {
		t.Errorf("kind = %s, want InsufficientData (err %v)", k, err)
	}
}

func TestExtract_BadMarkerInBody(t *testing.T) {
	// WHAT: a removed listing served with status 200 is NotFound.
	u := "https://www.portalinmobiliario.com/MLC-123-casa-en-venta"
	b := &fakeBrowser{pages: map[string]fakePage{
		u: {status: 200, title: "Casa en venta", html: `<html><body><h1 class="ui-pdp-title">Casa</h1><p>Publicación finalizada</p></body></html>`},
	}}
	s := newTestService(t, b)
	_, err := s.Extract(context.Background(), u)
	if k := failure.KindOf(err); k != failure.NotFound {
		t.Errorf("kind = %s, want NotFound (err %v)", k, err)
	}
}

func TestExtract_TransportErrorRetried(t *testing.T) {
	// WHAT: an unresolvable host is retried, then reported as InvalidUrl.
	b := &fakeBrowser{pages: map[string]fakePage{}}
	s := newTestService(t, b)
	_, err := s.Extract(context.Background(), listingURL)
	if k := failure.KindOf(err); k != failure.InvalidURL {
		t.Errorf("kind = %s, want InvalidUrl (err %v)", k, err)
	}
	navs, opened, closed := b.counts()
	if navs != 3 {
		t.Errorf("navigations = %d, want 3", navs)
	}
	if opened != 1 || closed != 1 {
		t.Errorf("opened %d closed %d, want 1/1", opened, closed)
	}
}

func TestExtract_SessionErrorClassified(t *testing.T) {
	b := &fakeBrowser{sessErr: errors.New("browser: no active browser")}
	s := newTestService(t, b)
	_, err := s.Extract(context.Background(), listingURL)
	var rec *failure.Record
	if !errors.As(err, &rec) || rec.Kind != failure.Internal {
		t.Errorf("err = %v, want Internal record", err)
	}
}

func TestExtract_SessionsAlwaysClosed(t *testing.T) {
	// WHAT: every opened session is closed, whatever the outcome.
	b := &fakeBrowser{pages: map[string]fakePage{
		listingURL:                    {status: 200, html: casaLasCondes},
		"https://www.corredora.cl/x":  {status: 404},
		"https://www.corredora.cl/y":  {status: 200, html: `<html><body></body></html>`},
		"https://www.corredora.cl/z":  {status: 500},
		"https://www.corredora.cl/gz": {status: 200, title: "Página no encontrada"},
	}}
	s := newTestService(t, b)
	var wg sync.WaitGroup
	for u := range b.pages {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Extract(context.Background(), u)
		}()
	}
	wg.Wait()
	_, opened, closed := b.counts()
	if opened != len(b.pages) || closed != opened {
		t.Errorf("opened %d closed %d, want %d", opened, closed, len(b.pages))
	}
}

func TestExtract_SlotWaitTimesOut(t *testing.T) {
	// WHAT: a caller that cannot get a session slot in time gets Timeout.
	b := &fakeBrowser{pages: map[string]fakePage{listingURL: {status: 200, html: casaLasCondes}}}
	s := newTestService(t, b)
	if err := s.sem.Acquire(context.Background(), int64(s.cfg.MaxConcurrent)); err != nil {
		t.Fatal(err)
	}
	defer s.sem.Release(int64(s.cfg.MaxConcurrent))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Extract(ctx, listingURL)
	if k := failure.KindOf(err); k != failure.Timeout {
		t.Errorf("kind = %s, want Timeout (err %v)", k, err)
	}
	if _, opened, _ := b.counts(); opened != 0 {
		t.Errorf("sessions opened = %d, want 0", opened)
	}
}

func TestClassifyPortal(t *testing.T) {
	s := newTestService(t, &fakeBrowser{})
	if got := s.ClassifyPortal("https://www.yapo.cl/region_metropolitana/casa-123"); got != portal.Yapo {
		t.Errorf("got %q", got)
	}
	if got := s.ClassifyPortal(listingURL); got != portal.Unknown {
		t.Errorf("got %q", got)
	}
}

func TestSearch_ReturnsValidItems(t *testing.T) {
	// WHAT: items without a title are dropped; the rest are successful.
	b := &fakeBrowser{pages: map[string]fakePage{
		searchURL: {status: 200, title: "Casas en venta", html: searchPage},
	}}
	s := newTestService(t, b)
	c := Criteria{Portal: portal.PortalInmobiliario, PropertyType: "Casa", Location: "Las Condes"}

	items, err := s.Search(context.Background(), c)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].Get(extract.FieldTitulo) != "Casa en El Golf" || !items[0].Success {
		t.Errorf("item 0 = %+v", items[0])
	}
	if items[0].Get(extract.FieldLink) != "https://www.portalinmobiliario.com/MLC-1" {
		t.Errorf("link = %q", items[0].Get(extract.FieldLink))
	}
	if items[1].Get(extract.FieldDormitorios) != "4 dormitorios" {
		t.Errorf("dormitorios = %q", items[1].Get(extract.FieldDormitorios))
	}
	for _, it := range items {
		if it.Mode != extract.ModeListingItem {
			t.Errorf("Mode = %s", it.Mode)
		}
	}

	// Served from cache the second time.
	navs, _, _ := b.counts()
	if _, err := s.Search(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	if again, _, _ := b.counts(); again != navs {
		t.Errorf("navigations = %d, want %d", again, navs)
	}
}

func TestSearch_Limit(t *testing.T) {
	b := &fakeBrowser{pages: map[string]fakePage{
		searchURL: {status: 200, title: "Casas", html: searchPage},
	}}
	s := newTestService(t, b)
	items, err := s.Search(context.Background(), Criteria{Portal: portal.PortalInmobiliario, PropertyType: "casa", Location: "las condes", Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Errorf("items = %d, want 1", len(items))
	}
}

func TestSearch_NoValidItems(t *testing.T) {
	b := &fakeBrowser{pages: map[string]fakePage{
		searchURL: {status: 200, title: "Casas", html: `<html><body><ol><li class="ui-search-layout__item"><span>Publicidad</span></li></ol></body></html>`},
	}}
	s := newTestService(t, b)
	_, err := s.Search(context.Background(), Criteria{Portal: portal.PortalInmobiliario, PropertyType: "casa", Location: "Las Condes"})
	if k := failure.KindOf(err); k != failure.InsufficientData {
		t.Errorf("kind = %s, want InsufficientData (err %v)", k, err)
	}
}

func TestSearch_InvalidCriteria(t *testing.T) {
	// WHAT: bad criteria are rejected as InvalidUrl without a session.
	b := &fakeBrowser{}
	s := newTestService(t, b)
	cases := []Criteria{
		{Portal: "zillow", Location: "x"},
		{Portal: portal.Unknown, Location: "x"},
		{Portal: portal.Yapo},
		{Portal: portal.Yapo, Location: "santiago", Operation: "permuta"},
		{Portal: portal.Yapo, Location: "santiago", MinPrice: 10, MaxPrice: 5},
		{Portal: portal.Yapo, Location: "santiago", Limit: -1},
	}
	for _, c := range cases {
		_, err := s.Search(context.Background(), c)
		if k := failure.KindOf(err); k != failure.InvalidURL {
			t.Errorf("%+v: kind = %s (err %v)", c, k, err)
		}
	}
	if _, opened, _ := b.counts(); opened != 0 {
		t.Errorf("sessions opened = %d", opened)
	}
}

func TestSearchURL(t *testing.T) {
	s := newTestService(t, &fakeBrowser{})
	cases := []struct {
		c    Criteria
		want string
	}{
		{
			Criteria{Portal: portal.PortalInmobiliario, Operation: "Arriendo", PropertyType: "Departamento", Location: "Ñuñoa"},
			"https://www.portalinmobiliario.com/arriendo/departamento/nunoa",
		},
		{
			Criteria{Portal: portal.PortalInmobiliario, PropertyType: "casa", Location: "Las Condes", MinPrice: 1000, MaxPrice: 5000},
			"https://www.portalinmobiliario.com/venta/casa/las-condes/_PriceRange_1000CLP-5000CLP",
		},
		{
			Criteria{Portal: portal.Yapo, Location: "Santiago", MinPrice: 100},
			"https://www.yapo.cl/santiago/inmuebles?operacion=venta&tipo=departamento&precio_desde=100",
		},
	}
	for _, tc := range cases {
		got, err := s.SearchURL(tc.c)
		if err != nil {
			t.Errorf("%+v: %v", tc.c, err)
			continue
		}
		if got != tc.want {
			t.Errorf("SearchURL = %q, want %q", got, tc.want)
		}
	}
}

func TestNormalize_LimitBounds(t *testing.T) {
	s := newTestService(t, &fakeBrowser{})
	c, err := s.normalize(Criteria{Portal: portal.TocToc, Location: "maipu"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Limit != 20 || c.Operation != "venta" || c.PropertyType != "departamento" {
		t.Errorf("defaults = %+v", c)
	}
	c, _ = s.normalize(Criteria{Portal: portal.TocToc, Location: "maipu", Limit: 500})
	if c.Limit != MaxSearchLimit {
		t.Errorf("Limit = %d, want %d", c.Limit, MaxSearchLimit)
	}
}

func TestMetricsRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	b := &fakeBrowser{pages: map[string]fakePage{listingURL: {status: 404}}}
	s := New(Config{Registerer: reg, Navigation: navigate.Config{RetryDelay: time.Millisecond}}, b, nil)
	s.guard.Lookup = publicLookup
	s.Extract(context.Background(), listingURL)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, mf := range mfs {
		if mf.GetName() != "propacq_acquire_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "outcome" && l.GetValue() == string(failure.NotFound) {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("no NotFound outcome recorded")
	}
}

func TestSearchMetrics_UnknownPortalsShareSeries(t *testing.T) {
	// WHAT: search requests naming unregistered portals are labelled
	// "unknown".
	// WHY: the portal comes from the request body; labelling with it would
	// let any client mint new series.
	reg := prometheus.NewRegistry()
	s := New(Config{Registerer: reg}, &fakeBrowser{}, nil)
	for i := range 50 {
		s.Search(context.Background(), Criteria{Portal: portal.ID(fmt.Sprintf("junk-%d", i)), Location: "nunoa"})
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "propacq_acquire_requests_total" {
			continue
		}
		if n := len(mf.GetMetric()); n != 1 {
			t.Fatalf("requests_total series = %d, want 1", n)
		}
		for _, l := range mf.GetMetric()[0].GetLabel() {
			if l.GetName() == "portal" && l.GetValue() != string(portal.Unknown) {
				t.Errorf("portal label = %q, want unknown", l.GetValue())
			}
		}
		return
	}
	t.Fatal("propacq_acquire_requests_total not gathered")
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "propacq.yaml")
	data := `
max_concurrent: 2
navigation:
  max_attempts: 5
  selector_timeout: 2s
cache:
  local_size: 64
  ttls:
    search: 30m
  distributed:
    backend: redis
    redis:
      addr: "cache:6379"
http:
  listen: ":9090"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.MaxConcurrent != 2 || cfg.Navigation.MaxAttempts != 5 || cfg.Navigation.SelectorTimeout != 2*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Cache.TTLs["search"] != 30*time.Minute || cfg.Cache.Distributed.Redis.Addr != "cache:6379" {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.HTTP.Listen != ":9090" || cfg.HTTP.RatePerMinute != 30 || cfg.SearchLimit != 20 {
		t.Errorf("http = %+v, search_limit %d", cfg.HTTP, cfg.SearchLimit)
	}
}

func TestLoadConfigFile_UnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	os.WriteFile(path, []byte("cache:\n  distributed:\n    backend: memcached\n"), 0o644)
	if _, err := LoadConfigFile(path); err == nil || !strings.Contains(err.Error(), "memcached") {
		t.Errorf("err = %v", err)
	}
}

func TestOpenTier(t *testing.T) {
	tier, err := openTier(DistributedConfig{Backend: "none"})
	if err != nil || tier != nil {
		t.Errorf("none: %v %v", tier, err)
	}
	tier, err = openTier(DistributedConfig{Backend: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "c.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer tier.Close()
	if tier.Name() != "sqlite" {
		t.Errorf("Name = %q", tier.Name())
	}
}
