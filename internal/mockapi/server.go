// Package mockapi serves a stand-in for the inventory API: the product
// listing and the per-store inventory endpoint, with the same JSON shapes.
package mockapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Route names, also used as Hits keys.
const (
	RouteProducts  = "ListarProductos"
	RouteInventory = "store_inventory"
	RouteHealth    = "health"
)

// DefaultProducts is the catalogue size when Options.Products is zero.
const DefaultProducts = 20

// Options tunes the mock.
type Options struct {
	// Latency is added before every API response.
	Latency time.Duration

	// ErrorRate is the fraction (0..1) of API requests answered with 500.
	ErrorRate float64

	// Products is the catalogue size.
	Products int

	// Seed makes error injection and generated data repeatable.
	Seed int64
}

// Product mirrors the API's product document.
type Product struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Price       float64 `json:"price"`
	SKU         string  `json:"sku"`
}

// InventoryRow mirrors one row of a store's inventory.
type InventoryRow struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"product_id"`
	StoreID     string    `json:"store_id"`
	Quantity    int       `json:"quantity"`
	MinStock    int       `json:"min_stock"`
	Activo      bool      `json:"activo"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ProductName string    `json:"product_name"`
	StoreName   string    `json:"store_name"`
}

var categories = []string{"electronics", "groceries", "home", "toys", "garden"}

// Server is the mock inventory API.
type Server struct {
	opts     Options
	router   *mux.Router
	products []Product
	created  time.Time
	logger   zerolog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	hits map[string]*atomic.Int64
}

// New builds a Server. Generated data is fixed for the server's lifetime.
func New(opts Options, logger zerolog.Logger) *Server {
	if opts.Products <= 0 {
		opts.Products = DefaultProducts
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}

	s := &Server{
		opts:    opts,
		created: time.Now().UTC().Truncate(time.Second),
		logger:  logger.With().Str("component", "mockapi").Logger(),
		rng:     rand.New(rand.NewSource(opts.Seed)),
		hits: map[string]*atomic.Int64{
			RouteProducts:  {},
			RouteInventory: {},
			RouteHealth:    {},
		},
	}
	s.products = s.generateProducts(opts.Products)

	r := mux.NewRouter()
	r.Use(s.commonHeaders, s.countHits)

	r.HandleFunc("/api/ListarProductos", s.listProducts).Methods(http.MethodGet).Name(RouteProducts)
	r.HandleFunc("/api/stores/{id}/inventory", s.storeInventory).Methods(http.MethodGet).Name(RouteInventory)
	r.HandleFunc("/health", s.health).Name(RouteHealth)
	// Router middleware does not wrap this handler.
	r.MethodNotAllowedHandler = s.commonHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}))

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Products returns the generated catalogue.
func (s *Server) Products() []Product {
	return s.products
}

// Hits returns how many requests reached the named route.
func (s *Server) Hits(route string) int64 {
	if c, ok := s.hits[route]; ok {
		return c.Load()
	}
	return 0
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5*time.Second + s.opts.Latency,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 2 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str("addr", addr).
			Dur("latency", s.opts.Latency).
			Float64("errorRate", s.opts.ErrorRate).
			Int("products", len(s.products)).
			Msg("mock inventory API listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) commonHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) countHits(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if route := mux.CurrentRoute(r); route != nil {
			if c, ok := s.hits[route.GetName()]; ok {
				c.Add(1)
			}
		}
		next.ServeHTTP(w, r)
	})
}

// delay applies the configured latency and reports whether the request
// should fail.
func (s *Server) delay(r *http.Request) (fail bool) {
	if s.opts.Latency > 0 {
		timer := time.NewTimer(s.opts.Latency)
		select {
		case <-timer.C:
		case <-r.Context().Done():
			timer.Stop()
		}
	}
	if s.opts.ErrorRate <= 0 {
		return false
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64() < s.opts.ErrorRate
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	if s.delay(r) {
		writeError(w, http.StatusInternalServerError, "Error al obtener productos")
		return
	}
	writeJSON(w, http.StatusOK, s.products)
}

func (s *Server) storeInventory(w http.ResponseWriter, r *http.Request) {
	storeID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "ID de tienda inválido")
		return
	}
	if s.delay(r) {
		writeError(w, http.StatusInternalServerError, "Error al obtener inventario")
		return
	}
	writeJSON(w, http.StatusOK, s.inventoryFor(storeID))
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) generateProducts(n int) []Product {
	out := make([]Product, n)
	for i := range out {
		out[i] = Product{
			ID:          uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("product-%d-%d", s.opts.Seed, i))).String(),
			Name:        fmt.Sprintf("Producto %d", i+1),
			Description: fmt.Sprintf("Producto de prueba %d", i+1),
			Category:    categories[i%len(categories)],
			Price:       float64(100+s.rng.Intn(99900)) / 100,
			SKU:         fmt.Sprintf("SKU-%05d", i+1),
		}
	}
	return out
}

// inventoryFor builds one row per product. Rows are derived from the store
// ID so repeated reads of a store return the same document.
func (s *Server) inventoryFor(storeID uuid.UUID) []InventoryRow {
	rows := make([]InventoryRow, len(s.products))
	store := storeID.String()
	for i, p := range s.products {
		rowID := uuid.NewSHA1(storeID, []byte(p.ID))
		rows[i] = InventoryRow{
			ID:          rowID.String(),
			ProductID:   p.ID,
			StoreID:     store,
			Quantity:    int(rowID[0]),
			MinStock:    int(rowID[1] % 20),
			Activo:      true,
			CreatedAt:   s.created,
			UpdatedAt:   s.created,
			ProductName: p.Name,
			StoreName:   "Tienda " + store[:8],
		}
	}
	return rows
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
