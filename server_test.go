package main

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const (
	testStorefrontSecret = "shop-secret"
	testProviderSecret   = "provider-secret"
)

const testCatalog = `
shop_id = "demo-shop"

product "crossword-poster" {
  blueprint_id      = 282
  print_provider_id = 99

  variant "12x16" {
    storefront_variant_id = "44012345678901"
    provider_variant_id   = 43135
  }
}
`

func newTestServer(t *testing.T, provider *ProviderClient) *Server {
	t.Helper()
	catalog, err := ParseCatalog([]byte(testCatalog), "test.hcl", nil)
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	return NewServer(Deps{
		Store:            NewStore(nil),
		Catalog:          catalog,
		Provider:         provider,
		StorefrontSecret: testStorefrontSecret,
		ProviderSecret:   testProviderSecret,
	})
}

// fakeProvider is a print provider API that accepts every upload and order.
type fakeProvider struct {
	uploads atomic.Int32
	orders  atomic.Int32
	auth    atomic.Value
	fail    bool
}

func (f *fakeProvider) start(t *testing.T) *ProviderClient {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /uploads/images.json", func(w http.ResponseWriter, r *http.Request) {
		f.uploads.Add(1)
		f.auth.Store(r.Header.Get("Authorization"))
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["contents"] == "" || strings.HasPrefix(req["contents"], "data:") {
			http.Error(w, "bad contents", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"id":"img_1","preview_url":"https://cdn.example/img_1.png"}`))
	})
	mux.HandleFunc("POST /shops/demo-shop/orders.json", func(w http.ResponseWriter, r *http.Request) {
		f.orders.Add(1)
		if f.fail {
			http.Error(w, `{"error":"out of stock"}`, http.StatusUnprocessableEntity)
			return
		}
		w.Write([]byte(`{"id":"po_1"}`))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return NewProviderClient(ts.URL, "tok", "demo-shop", 5*time.Second)
}

func do(srv *Server, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func createPuzzle(t *testing.T, srv *Server) *Puzzle {
	t.Helper()
	body := `{"words":"PAPER - It comes in reams\nPEN - Writing tool","size":10,"seed":1}`
	w := do(srv, "POST", "/api/puzzles", body, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create puzzle: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var p Puzzle
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
		t.Fatalf("decode puzzle: %v", err)
	}
	return &p
}

func storefrontHook(srv *Server, payload string) *httptest.ResponseRecorder {
	sig := base64.StdEncoding.EncodeToString(sign(testStorefrontSecret, []byte(payload)))
	return do(srv, "POST", "/api/webhooks/storefront", payload, map[string]string{"X-Storefront-Hmac-Sha256": sig})
}

func providerHook(srv *Server, payload string) *httptest.ResponseRecorder {
	sig := "sha256=" + hex.EncodeToString(sign(testProviderSecret, []byte(payload)))
	return do(srv, "POST", "/api/webhooks/provider", payload, map[string]string{"X-Provider-Signature": sig})
}

func orderPayload(variantID, puzzleID string) string {
	return `{"id":1001,"email":"buyer@example.com","line_items":[
		{"id":1,"variant_id":` + variantID + `,"quantity":2,"properties":[{"name":"puzzle_id","value":"` + puzzleID + `"}]},
		{"id":2,"variant_id":555,"quantity":1,"properties":[]}
	]}`
}

func decodeOrders(t *testing.T, w *httptest.ResponseRecorder) []*Order {
	t.Helper()
	var resp struct {
		Orders []*Order `json:"orders"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode orders: %v", err)
	}
	return resp.Orders
}

func TestIndexPage(t *testing.T) {
	srv := newTestServer(t, nil)

	w := do(srv, "GET", "/", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Fatalf("expected text/html, got %s", ct)
	}
	if !strings.Contains(w.Body.String(), "Crossword Shop") {
		t.Fatal("index page does not contain expected title")
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(t, nil)
	w := do(srv, "GET", "/healthz", "", nil)

	for h, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
	} {
		if got := w.Header().Get(h); got != want {
			t.Fatalf("%s: expected %q, got %q", h, want, got)
		}
	}
	if csp := w.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "img-src 'self' data:") {
		t.Fatalf("CSP does not allow data images: %s", csp)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	w := do(srv, "GET", "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["store"] != "memory" {
		t.Fatalf("expected memory store, got %v", resp["store"])
	}
	if resp["variants"] != float64(1) {
		t.Fatalf("expected 1 variant, got %v", resp["variants"])
	}
}

func TestCreateAndGetPuzzle(t *testing.T) {
	srv := newTestServer(t, nil)
	p := createPuzzle(t, srv)

	if !strings.HasPrefix(p.ID, "pz_") {
		t.Fatalf("unexpected puzzle ID %q", p.ID)
	}
	if len(p.Placed) != 2 {
		t.Fatalf("expected 2 placed words, got %d", len(p.Placed))
	}
	if p.Size != 10 || p.Grid.Size() != 10 {
		t.Fatalf("expected a 10x10 grid, got %d", p.Size)
	}
	if len(p.Clues.Across)+len(p.Clues.Down) != 2 {
		t.Fatalf("expected 2 clues, got %+v", p.Clues)
	}
	if p.Bounds.Rows() < 1 || p.Bounds.Cols() < 1 {
		t.Fatalf("empty bounds %+v", p.Bounds)
	}

	w := do(srv, "GET", "/api/puzzles/"+p.ID, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get puzzle: expected 200, got %d", w.Code)
	}
	var got Puzzle
	json.NewDecoder(w.Body).Decode(&got)
	if got.ID != p.ID || got.Placed[0].Word != p.Placed[0].Word {
		t.Fatalf("get returned a different puzzle: %+v", got)
	}
}

func TestCreatePuzzleFromEntries(t *testing.T) {
	srv := newTestServer(t, nil)
	body := `{"entries":[{"word":"ice cream","clue":"Cold treat"},{"word":"","clue":"dropped"}],"seed":7}`
	w := do(srv, "POST", "/api/puzzles", body, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var p Puzzle
	json.NewDecoder(w.Body).Decode(&p)
	if p.Size != 20 {
		t.Fatalf("expected default size 20, got %d", p.Size)
	}
	if len(p.Placed) != 1 || p.Placed[0].Word != "ICE_CREAM" {
		t.Fatalf("unexpected placement %+v", p.Placed)
	}
	if len(p.Warnings) == 0 {
		t.Fatal("expected a sparse-grid warning")
	}
}

func TestCreatePuzzleErrors(t *testing.T) {
	srv := newTestServer(t, nil)

	cases := []struct {
		name string
		body string
		code int
	}{
		{"empty body", ``, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
		{"no clues", `{"words":"PAPER\nPEN"}`, http.StatusBadRequest},
		{"no shared letters", `{"words":"ABC - first\nXYZ - second","seed":1}`, http.StatusUnprocessableEntity},
		{"too long", `{"words":"ABCDEFGHIJKL - long","size":5,"seed":1}`, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		w := do(srv, "POST", "/api/puzzles", tc.body, nil)
		if w.Code != tc.code {
			t.Fatalf("%s: expected %d, got %d: %s", tc.name, tc.code, w.Code, w.Body.String())
		}
		var resp map[string]string
		json.NewDecoder(w.Body).Decode(&resp)
		if resp["error"] == "" {
			t.Fatalf("%s: expected an error message", tc.name)
		}
	}
}

func TestGetPuzzleNotFound(t *testing.T) {
	srv := newTestServer(t, nil)
	for _, path := range []string{"/api/puzzles/pz_missing", "/api/puzzles/pz_missing/image.png"} {
		if w := do(srv, "GET", path, "", nil); w.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, w.Code)
		}
	}
}

func TestListPuzzles(t *testing.T) {
	srv := newTestServer(t, nil)
	createPuzzle(t, srv)
	createPuzzle(t, srv)
	createPuzzle(t, srv)

	w := do(srv, "GET", "/api/puzzles?limit=2", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var list []Puzzle
	json.NewDecoder(w.Body).Decode(&list)
	if len(list) != 2 {
		t.Fatalf("expected 2 puzzles, got %d", len(list))
	}
}

func TestPuzzleImage(t *testing.T) {
	srv := newTestServer(t, nil)
	p := createPuzzle(t, srv)

	for _, path := range []string{"/image.png", "/image.png?solution=1"} {
		w := do(srv, "GET", "/api/puzzles/"+p.ID+path, "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "image/png" {
			t.Fatalf("%s: expected image/png, got %s", path, ct)
		}
		if !bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")) {
			t.Fatalf("%s: body is not a PNG", path)
		}
	}
}

func TestUploadPuzzle(t *testing.T) {
	fake := &fakeProvider{}
	srv := newTestServer(t, fake.start(t))
	p := createPuzzle(t, srv)

	for range 2 {
		w := do(srv, "POST", "/api/puzzles/"+p.ID+"/upload", "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var got Puzzle
		json.NewDecoder(w.Body).Decode(&got)
		if got.Upload == nil || got.Upload.ID != "img_1" {
			t.Fatalf("expected upload img_1, got %+v", got.Upload)
		}
	}
	if n := fake.uploads.Load(); n != 1 {
		t.Fatalf("expected a single upload, got %d", n)
	}
	if auth := fake.auth.Load(); auth != "Bearer tok" {
		t.Fatalf("unexpected Authorization header %v", auth)
	}
}

func TestUploadWithoutProvider(t *testing.T) {
	srv := newTestServer(t, nil)
	p := createPuzzle(t, srv)
	if w := do(srv, "POST", "/api/puzzles/"+p.ID+"/upload", "", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestCluesWithoutGemini(t *testing.T) {
	srv := newTestServer(t, nil)
	if w := do(srv, "POST", "/api/clues", `{"words":["paper"]}`, nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestStorefrontWebhookSubmitsOrder(t *testing.T) {
	fake := &fakeProvider{}
	srv := newTestServer(t, fake.start(t))
	p := createPuzzle(t, srv)

	w := storefrontHook(srv, orderPayload("44012345678901", p.ID))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	orders := decodeOrders(t, w)
	if len(orders) != 1 {
		t.Fatalf("expected 1 order (line without puzzle skipped), got %d", len(orders))
	}
	o := orders[0]
	if o.Status != statusSubmitted || o.ProviderOrderID != "po_1" {
		t.Fatalf("expected submitted order po_1, got %s %q (%s)", o.Status, o.ProviderOrderID, o.Error)
	}
	if o.StorefrontOrderID != "1001" || o.Quantity != 2 || o.ProviderVariantID != 43135 || o.Product != "crossword-poster" {
		t.Fatalf("unexpected order fields %+v", o)
	}
	if fake.uploads.Load() != 1 || fake.orders.Load() != 1 {
		t.Fatalf("expected 1 upload and 1 order, got %d and %d", fake.uploads.Load(), fake.orders.Load())
	}

	w = do(srv, "GET", "/api/orders/"+o.ID, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get order: expected 200, got %d", w.Code)
	}
}

func TestStorefrontWebhookFailures(t *testing.T) {
	fake := &fakeProvider{}
	srv := newTestServer(t, fake.start(t))
	p := createPuzzle(t, srv)

	// Unknown variant.
	orders := decodeOrders(t, storefrontHook(srv, orderPayload("999", p.ID)))
	if len(orders) != 1 || orders[0].Status != statusFailed || !strings.Contains(orders[0].Error, "unknown storefront variant") {
		t.Fatalf("expected failed order for unknown variant, got %+v", orders)
	}

	// Unknown puzzle.
	orders = decodeOrders(t, storefrontHook(srv, orderPayload("44012345678901", "pz_missing")))
	if len(orders) != 1 || orders[0].Status != statusFailed {
		t.Fatalf("expected failed order for unknown puzzle, got %+v", orders)
	}

	if fake.orders.Load() != 0 {
		t.Fatalf("no provider order expected, got %d", fake.orders.Load())
	}
}

func TestStorefrontWebhookProviderError(t *testing.T) {
	fake := &fakeProvider{fail: true}
	srv := newTestServer(t, fake.start(t))
	p := createPuzzle(t, srv)

	orders := decodeOrders(t, storefrontHook(srv, orderPayload("44012345678901", p.ID)))
	if len(orders) != 1 || orders[0].Status != statusFailed {
		t.Fatalf("expected failed order, got %+v", orders)
	}
	if !strings.Contains(orders[0].Error, "422") {
		t.Fatalf("expected provider status in error, got %q", orders[0].Error)
	}
}

func TestStorefrontWebhookWithoutProvider(t *testing.T) {
	srv := newTestServer(t, nil)
	p := createPuzzle(t, srv)

	orders := decodeOrders(t, storefrontHook(srv, orderPayload("44012345678901", p.ID)))
	if len(orders) != 1 || orders[0].Status != statusPending {
		t.Fatalf("expected pending order, got %+v", orders)
	}
}

func TestWebhookSignatures(t *testing.T) {
	srv := newTestServer(t, nil)
	payload := orderPayload("44012345678901", "pz_x")

	w := do(srv, "POST", "/api/webhooks/storefront", payload, map[string]string{"X-Storefront-Hmac-Sha256": "bm9wZQ=="})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("storefront: expected 401, got %d", w.Code)
	}
	w = do(srv, "POST", "/api/webhooks/storefront", payload, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("storefront without signature: expected 401, got %d", w.Code)
	}
	w = do(srv, "POST", "/api/webhooks/provider", `{"order_id":"ord_x","status":"shipped"}`, map[string]string{"X-Provider-Signature": "deadbeef"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("provider: expected 401, got %d", w.Code)
	}
}

func TestProviderWebhookStatusFlow(t *testing.T) {
	fake := &fakeProvider{}
	srv := newTestServer(t, fake.start(t))
	p := createPuzzle(t, srv)
	o := decodeOrders(t, storefrontHook(srv, orderPayload("44012345678901", p.ID)))[0]

	w := providerHook(srv, `{"order_id":"`+o.ID+`","status":"shipped","tracking_number":" 1Z999 "}`)
	if w.Code != http.StatusOK {
		t.Fatalf("shipped: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got Order
	json.NewDecoder(w.Body).Decode(&got)
	if got.Status != statusShipped || got.TrackingNumber != "1Z999" {
		t.Fatalf("unexpected order after shipping: %+v", got)
	}

	if w := providerHook(srv, `{"order_id":"`+o.ID+`","status":"delivered"}`); w.Code != http.StatusOK {
		t.Fatalf("delivered: expected 200, got %d", w.Code)
	}
	if w := providerHook(srv, `{"order_id":"`+o.ID+`","status":"in_production"}`); w.Code != http.StatusConflict {
		t.Fatalf("after delivery: expected 409, got %d", w.Code)
	}
	if w := providerHook(srv, `{"order_id":"`+o.ID+`","status":"lost"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown status: expected 400, got %d", w.Code)
	}
	if w := providerHook(srv, `{"order_id":"ord_missing","status":"shipped"}`); w.Code != http.StatusNotFound {
		t.Fatalf("unknown order: expected 404, got %d", w.Code)
	}
	if w := providerHook(srv, `{"status":"shipped"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing order id: expected 400, got %d", w.Code)
	}
}

func TestOrderEventsStream(t *testing.T) {
	fake := &fakeProvider{}
	srv := newTestServer(t, fake.start(t))
	p := createPuzzle(t, srv)
	o := decodeOrders(t, storefrontHook(srv, orderPayload("44012345678901", p.ID)))[0]

	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/orders/" + o.ID + "/events")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %s", ct)
	}

	events := make(chan string, 4)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if data, ok := strings.CutPrefix(sc.Text(), "data: "); ok {
				events <- data
			}
		}
		close(events)
	}()

	next := func() string {
		select {
		case e := <-events:
			return e
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
			return ""
		}
	}

	if e := next(); !strings.Contains(e, `"type":"order_state"`) || !strings.Contains(e, `"status":"submitted"`) {
		t.Fatalf("unexpected initial event: %s", e)
	}

	// The initial event is written after subscribing, so this publish is seen.
	providerHook(srv, `{"order_id":"`+o.ID+`","status":"in_production"}`)
	if e := next(); !strings.Contains(e, `"type":"order_status"`) || !strings.Contains(e, `"status":"in_production"`) {
		t.Fatalf("unexpected status event: %s", e)
	}
}

func TestOrderNotFound(t *testing.T) {
	srv := newTestServer(t, nil)
	for _, path := range []string{"/api/orders/ord_missing", "/api/orders/ord_missing/events"} {
		if w := do(srv, "GET", path, "", nil); w.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, w.Code)
		}
	}
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)

	if !rl.allow("1.2.3.4") || !rl.allow("1.2.3.4") {
		t.Fatal("first two requests should pass")
	}
	if rl.allow("1.2.3.4") {
		t.Fatal("third request should be limited")
	}
	if !rl.allow("5.6.7.8") {
		t.Fatal("other IPs have their own bucket")
	}
}

func TestCreatePuzzleRateLimited(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.generateRL = newRateLimiter(1, time.Minute)

	createPuzzle(t, srv)
	w := do(srv, "POST", "/api/puzzles", `{"words":"PAPER - reams"}`, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
}

func TestRateLimitIgnoresSourcePort(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.generateRL = newRateLimiter(1, time.Minute)

	post := func(addr string) int {
		req := httptest.NewRequest("POST", "/api/puzzles", strings.NewReader(`{"words":"PAPER - reams","seed":1}`))
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)
		return w.Code
	}

	if code := post("10.0.0.7:40001"); code != http.StatusCreated {
		t.Fatalf("first request: expected 201, got %d", code)
	}
	if code := post("10.0.0.7:40002"); code != http.StatusTooManyRequests {
		t.Fatalf("new connection from same host: expected 429, got %d", code)
	}
	if code := post("10.0.0.8:40001"); code != http.StatusCreated {
		t.Fatalf("other host: expected 201, got %d", code)
	}
}

func TestClientIP(t *testing.T) {
	for addr, want := range map[string]string{
		"192.0.2.1:1234": "192.0.2.1",
		"[::1]:8080":     "::1",
		"no-port":        "no-port",
	} {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = addr
		if got := clientIP(req); got != want {
			t.Fatalf("%s: expected %s, got %s", addr, want, got)
		}
	}
}

func TestConcurrentUploadsShareOneRequest(t *testing.T) {
	var uploads atomic.Int32
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploads.Add(1)
		<-release
		w.Write([]byte(`{"id":"img_1"}`))
	}))
	defer ts.Close()

	srv := newTestServer(t, NewProviderClient(ts.URL, "tok", "demo-shop", 5*time.Second))
	p := createPuzzle(t, srv)

	const n = 5
	codes := make(chan int, n)
	for range n {
		go func() {
			codes <- do(srv, "POST", "/api/puzzles/"+p.ID+"/upload", "", nil).Code
		}()
	}

	// Let the first request reach the provider before releasing it.
	deadline := time.Now().Add(2 * time.Second)
	for uploads.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)

	for range n {
		if code := <-codes; code != http.StatusOK {
			t.Fatalf("expected 200, got %d", code)
		}
	}
	if got := uploads.Load(); got != 1 {
		t.Fatalf("expected a single upload, got %d", got)
	}
}
