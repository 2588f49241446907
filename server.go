package main

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bodul/crossword-shop/layout"
	"github.com/bodul/crossword-shop/render"
)

//go:embed frontend
var frontendFS embed.FS

const (
	maxBodySize = 1 << 20 // 1 MiB
	maxEntries  = 60
)

// rateLimiter is a simple per-IP token bucket rate limiter.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*bucket
	rate     int           // tokens per interval
	interval time.Duration // refill interval
}

type bucket struct {
	tokens   int
	lastSeen time.Time
}

func newRateLimiter(rate int, interval time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*bucket),
		rate:     rate,
		interval: interval,
	}
	// Cleanup stale entries every minute.
	go func() {
		for {
			time.Sleep(time.Minute)
			rl.mu.Lock()
			for ip, b := range rl.visitors {
				if time.Since(b.lastSeen) > 5*time.Minute {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		}
	}()
	return rl
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.visitors[ip]
	if !ok {
		rl.visitors[ip] = &bucket{tokens: rl.rate - 1, lastSeen: time.Now()}
		return true
	}

	// Refill tokens based on elapsed time.
	elapsed := time.Since(b.lastSeen)
	refill := int(elapsed / rl.interval)
	if refill > 0 {
		b.tokens += refill * rl.rate
		if b.tokens > rl.rate {
			b.tokens = rl.rate
		}
		b.lastSeen = time.Now()
	}

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// Deps are the collaborators a Server needs. Only Store is required; a nil
// Provider or Gemini disables the routes that use them.
type Deps struct {
	Logger   *slog.Logger
	Store    *Store
	Catalog  *Catalog
	Provider *ProviderClient
	Gemini   *GeminiClient
	Mailer   *Mailer

	StorefrontSecret string
	ProviderSecret   string
	MaxBacktracks    int
}

// Server is the main HTTP server.
type Server struct {
	mux      *http.ServeMux
	log      *slog.Logger
	store    *Store
	catalog  *Catalog
	provider *ProviderClient
	gemini   *GeminiClient
	mailer   *Mailer
	events   *Broadcaster

	storefrontSecret string
	providerSecret   string
	maxBacktracks    int

	generateRL *rateLimiter
	clueRL     *rateLimiter

	uploads singleflight.Group
}

// NewServer creates a configured HTTP server.
func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		mux:              http.NewServeMux(),
		log:              logger,
		store:            d.Store,
		catalog:          d.Catalog,
		provider:         d.Provider,
		gemini:           d.Gemini,
		mailer:           d.Mailer,
		events:           NewBroadcaster(),
		storefrontSecret: d.StorefrontSecret,
		providerSecret:   d.ProviderSecret,
		maxBacktracks:    d.MaxBacktracks,
		generateRL:       newRateLimiter(20, time.Minute), // 20 puzzles/min per IP
		clueRL:           newRateLimiter(5, time.Minute),  // 5 clue requests/min per IP
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// Puzzle API
	s.mux.HandleFunc("POST /api/puzzles", s.handleCreatePuzzle)
	s.mux.HandleFunc("GET /api/puzzles", s.handleListPuzzles)
	s.mux.HandleFunc("GET /api/puzzles/{id}", s.handleGetPuzzle)
	s.mux.HandleFunc("GET /api/puzzles/{id}/image.png", s.handlePuzzleImage)
	s.mux.HandleFunc("POST /api/puzzles/{id}/upload", s.handleUploadPuzzle)
	s.mux.HandleFunc("POST /api/clues", s.handleSuggestClues)

	// Orders
	s.mux.HandleFunc("POST /api/webhooks/storefront", s.handleStorefrontWebhook)
	s.mux.HandleFunc("POST /api/webhooks/provider", s.handleProviderWebhook)
	s.mux.HandleFunc("GET /api/orders/{id}", s.handleGetOrder)
	s.mux.HandleFunc("GET /api/orders/{id}/events", s.handleOrderEvents)

	// Frontend static files
	frontendDir, _ := fs.Sub(frontendFS, "frontend")
	s.mux.Handle("GET /", http.FileServer(http.FS(frontendDir)))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; connect-src 'self'")
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"store":    s.store.Mode(),
		"variants": s.catalog.Len(),
		"provider": s.provider != nil,
		"clues":    s.gemini != nil,
	})
}

// --- Puzzle handlers ---

// POST /api/puzzles: lay out a word list and save the result.
func (s *Server) handleCreatePuzzle(w http.ResponseWriter, r *http.Request) {
	if !s.generateRL.allow(clientIP(r)) {
		jsonError(w, "Too many requests, try again later", http.StatusTooManyRequests)
		return
	}

	var req struct {
		Words   string         `json:"words"`
		Entries []layout.Entry `json:"entries"`
		Size    int            `json:"size"`
		Narrow  bool           `json:"narrow"`
		Seed    *uint64        `json:"seed"`
	}
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries := layout.ParseWordList(req.Words)
	for _, e := range req.Entries {
		if ne := layout.NewEntry(e.Word, e.Clue); ne.Word != "" && ne.Clue != "" {
			entries = append(entries, ne)
		}
	}
	if len(entries) == 0 {
		jsonError(w, "Enter at least one line as WORD - clue", http.StatusBadRequest)
		return
	}
	if len(entries) > maxEntries {
		jsonError(w, "Too many words (max "+strconv.Itoa(maxEntries)+")", http.StatusBadRequest)
		return
	}

	var rng layout.Rand
	if req.Seed != nil {
		rng = rand.New(rand.NewPCG(*req.Seed, *req.Seed))
	}
	gen := layout.New(layout.ClampSize(req.Size, req.Narrow), rng)
	gen.MaxBacktracks = s.maxBacktracks

	res, err := gen.Generate(entries)
	if errors.Is(err, layout.ErrNoLayout) {
		s.log.Info("No layout found", "words", len(entries), "size", gen.Size, "error", err)
		jsonError(w, "Could not fit every word. Try different words or a larger grid.", http.StatusUnprocessableEntity)
		return
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	p := newPuzzle(res)
	if err := s.store.SavePuzzle(r.Context(), p); err != nil {
		s.log.Error("Save puzzle failed", "error", err)
		jsonError(w, "Could not save the puzzle", http.StatusInternalServerError)
		return
	}
	s.log.Info("Puzzle generated", "puzzle", p.ID, "words", len(p.Placed), "size", p.Size, "warnings", len(p.Warnings))
	writeJSON(w, http.StatusCreated, p)
}

// GET /api/puzzles: list recent puzzles.
func (s *Server) handleListPuzzles(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListPuzzles(r.Context(), intParam(r, "limit", 20, 1, 100))
	if err != nil {
		s.log.Error("List puzzles failed", "error", err)
		jsonError(w, "Could not list puzzles", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GET /api/puzzles/{id}: get a single puzzle.
func (s *Server) handleGetPuzzle(w http.ResponseWriter, r *http.Request) {
	p, ok := s.puzzle(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GET /api/puzzles/{id}/image.png: cropped puzzle image.
func (s *Server) handlePuzzleImage(w http.ResponseWriter, r *http.Request) {
	p, ok := s.puzzle(w, r)
	if !ok {
		return
	}
	img := render.Render(p.Grid, p.Placed, render.Options{Solution: r.URL.Query().Get("solution") == "1"})
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if err := render.EncodePNG(w, img); err != nil {
		s.log.Warn("Write puzzle image failed", "puzzle", p.ID, "error", err)
	}
}

// POST /api/puzzles/{id}/upload: push the rendered puzzle to the provider.
func (s *Server) handleUploadPuzzle(w http.ResponseWriter, r *http.Request) {
	if s.provider == nil {
		jsonError(w, "Print provider not configured", http.StatusServiceUnavailable)
		return
	}
	p, ok := s.puzzle(w, r)
	if !ok {
		return
	}
	p, err := s.ensureUpload(r.Context(), p)
	if err != nil {
		s.log.Error("Upload failed", "puzzle", p.ID, "error", err)
		jsonError(w, "Upload to the print provider failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ensureUpload uploads the blank puzzle image unless it already was.
// Concurrent calls for one puzzle share a single upload.
func (s *Server) ensureUpload(ctx context.Context, p *Puzzle) (*Puzzle, error) {
	if p.Upload != nil {
		return p, nil
	}
	v, err, _ := s.uploads.Do(p.ID, func() (any, error) {
		// The upload outlives a caller that goes away.
		ctx := context.WithoutCancel(ctx)
		cur, err := s.store.GetPuzzle(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if cur.Upload != nil {
			return cur, nil
		}
		uri, err := render.DataURI(render.Render(cur.Grid, cur.Placed, render.Options{}))
		if err != nil {
			return nil, err
		}
		up, err := s.provider.UploadImage(ctx, cur.ID+".png", uri)
		if err != nil {
			return nil, err
		}
		updated, err := s.store.SetUpload(ctx, cur.ID, up)
		if err != nil {
			return nil, err
		}
		s.log.Info("Puzzle uploaded", "puzzle", cur.ID, "upload", up.ID)
		return updated, nil
	})
	if err != nil {
		return p, err
	}
	return v.(*Puzzle), nil
}

// POST /api/clues: suggest clues for bare words.
func (s *Server) handleSuggestClues(w http.ResponseWriter, r *http.Request) {
	if !s.clueRL.allow(clientIP(r)) {
		jsonError(w, "Too many requests, try again later", http.StatusTooManyRequests)
		return
	}
	if s.gemini == nil {
		jsonError(w, "Clue suggestions not configured", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Words []string `json:"words"`
	}
	if err := decodeJSON(r, &req); err != nil || len(req.Words) == 0 {
		jsonError(w, "Field 'words' required", http.StatusBadRequest)
		return
	}

	entries, err := s.gemini.SuggestClues(r.Context(), req.Words)
	if err != nil {
		s.log.Error("Clue suggestion failed", "error", err)
		jsonError(w, "Could not suggest clues", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// --- Order handlers ---

// POST /api/webhooks/storefront: a paid storefront order.
func (s *Server) handleStorefrontWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		jsonError(w, "Could not read body", http.StatusBadRequest)
		return
	}
	if !verifyBase64HMAC(s.storefrontSecret, body, r.Header.Get("X-Storefront-Hmac-Sha256")) {
		jsonError(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var so storefrontOrder
	if err := json.Unmarshal(body, &so); err != nil {
		jsonError(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	orders := []*Order{}
	for _, li := range so.LineItems {
		puzzleID := ""
		for _, prop := range li.Properties {
			if prop.Name == "puzzle_id" || prop.Name == "_puzzle_id" {
				puzzleID = strings.TrimSpace(prop.Value)
			}
		}
		if puzzleID == "" {
			continue
		}

		o := &Order{
			StorefrontOrderID:   so.ID.String(),
			PuzzleID:            puzzleID,
			Email:               so.Email,
			StorefrontVariantID: li.VariantID.String(),
			Quantity:            max(li.Quantity, 1),
			Status:              statusPending,
		}
		variant, verr := s.catalog.Resolve(o.StorefrontVariantID)
		if verr == nil {
			o.Product = variant.Product
			o.ProviderVariantID = variant.ProviderVariantID
		} else {
			o.Status = statusFailed
			o.Error = verr.Error()
		}
		if _, perr := s.store.GetPuzzle(r.Context(), puzzleID); perr != nil && o.Status != statusFailed {
			o.Status = statusFailed
			o.Error = perr.Error()
		}

		if err := s.store.CreateOrder(r.Context(), o); err != nil {
			s.log.Error("Create order failed", "storefront_order", o.StorefrontOrderID, "error", err)
			jsonError(w, "Could not record order", http.StatusInternalServerError)
			return
		}
		s.log.Info("Order received", "order", o.ID, "storefront_order", o.StorefrontOrderID, "puzzle", puzzleID, "status", o.Status)

		if o.Status == statusPending {
			o = s.submitOrder(r.Context(), o, variant)
		}
		orders = append(orders, o)
	}

	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// submitOrder uploads the puzzle if needed and places the provider order.
// Failures are recorded on the order rather than returned.
func (s *Server) submitOrder(ctx context.Context, o *Order, v Variant) *Order {
	if s.provider == nil {
		s.log.Warn("Print provider not configured, order left pending", "order", o.ID)
		return o
	}

	providerID, err := s.placeWithProvider(ctx, o, v)
	updated, uerr := s.store.UpdateOrder(ctx, o.ID, func(cur *Order) error {
		if err != nil {
			cur.Error = err.Error()
			return cur.setStatus(statusFailed)
		}
		cur.ProviderOrderID = providerID
		cur.Error = ""
		return cur.setStatus(statusSubmitted)
	})
	if uerr != nil {
		s.log.Error("Update order failed", "order", o.ID, "error", uerr)
		return o
	}
	if err != nil {
		s.log.Error("Provider order failed", "order", o.ID, "error", err)
	} else {
		s.log.Info("Order submitted", "order", o.ID, "provider_order", providerID)
	}
	s.events.Publish(o.ID, orderEvent{Type: "order_status", Order: updated})
	if err == nil {
		s.emailPuzzle(ctx, updated)
	}
	return updated
}

// emailPuzzle is best effort: a mail failure never changes the order.
func (s *Server) emailPuzzle(ctx context.Context, o *Order) {
	if s.mailer == nil || o.Email == "" {
		return
	}
	p, err := s.store.GetPuzzle(ctx, o.PuzzleID)
	if err != nil {
		s.log.Warn("Puzzle mail skipped", "order", o.ID, "error", err)
		return
	}
	if err := s.mailer.SendPuzzle(ctx, o, p); err != nil {
		s.log.Warn("Puzzle mail failed", "order", o.ID, "error", err)
		return
	}
	s.log.Info("Puzzle mailed", "order", o.ID)
}

func (s *Server) placeWithProvider(ctx context.Context, o *Order, v Variant) (string, error) {
	p, err := s.store.GetPuzzle(ctx, o.PuzzleID)
	if err != nil {
		return "", err
	}
	p, err = s.ensureUpload(ctx, p)
	if err != nil {
		return "", err
	}
	return s.provider.SubmitOrder(ctx, o, v, p.Upload)
}

// POST /api/webhooks/provider: production and shipping updates.
func (s *Server) handleProviderWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		jsonError(w, "Could not read body", http.StatusBadRequest)
		return
	}
	if !verifyHexHMAC(s.providerSecret, body, r.Header.Get("X-Provider-Signature")) {
		jsonError(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var evt providerEvent
	if err := json.Unmarshal(body, &evt); err != nil || evt.OrderID == "" {
		jsonError(w, "Fields 'order_id' and 'status' required", http.StatusBadRequest)
		return
	}

	o, err := s.store.UpdateOrder(r.Context(), evt.OrderID, func(cur *Order) error {
		if evt.TrackingNumber != "" {
			cur.TrackingNumber = strings.TrimSpace(evt.TrackingNumber)
		}
		return cur.setStatus(evt.Status)
	})
	switch {
	case errors.Is(err, ErrNotFound):
		jsonError(w, "Order not found", http.StatusNotFound)
		return
	case errors.Is(err, errUnknownStatus):
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, errBadTransition):
		jsonError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		s.log.Error("Update order failed", "order", evt.OrderID, "error", err)
		jsonError(w, "Could not update order", http.StatusInternalServerError)
		return
	}

	s.log.Info("Order status changed", "order", o.ID, "status", o.Status)
	s.events.Publish(o.ID, orderEvent{Type: "order_status", Order: o})
	writeJSON(w, http.StatusOK, o)
}

// GET /api/orders/{id}: current order state.
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.store.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		s.notFoundOr500(w, err, "Order not found")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// GET /api/orders/{id}/events: SSE stream of status changes.
func (s *Server) handleOrderEvents(w http.ResponseWriter, r *http.Request) {
	o, err := s.store.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		s.notFoundOr500(w, err, "Order not found")
		return
	}
	s.events.ServeSSE(w, r, o.ID, orderEvent{Type: "order_state", Order: o})
}

// --- Helpers ---

func (s *Server) puzzle(w http.ResponseWriter, r *http.Request) (*Puzzle, bool) {
	p, err := s.store.GetPuzzle(r.Context(), r.PathValue("id"))
	if err != nil {
		s.notFoundOr500(w, err, "Puzzle not found")
		return nil, false
	}
	return p, true
}

func (s *Server) notFoundOr500(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, ErrNotFound) {
		jsonError(w, msg, http.StatusNotFound)
		return
	}
	s.log.Error("Store lookup failed", "error", err)
	jsonError(w, "Internal error", http.StatusInternalServerError)
}

// clientIP is the rate limiting key: the remote host without its port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return errors.New("empty request body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.New("invalid JSON payload")
	}
	return nil
}

func intParam(r *http.Request, key string, def, lo, hi int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return min(max(n, lo), hi)
}
