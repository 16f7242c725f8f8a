// Package scenario holds the inventory load scenario: list the product
// catalogue, read one store's inventory, then think.
package scenario

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wesleyorama2/invload/internal/config"
	"github.com/wesleyorama2/invload/internal/loadtest"
	"github.com/wesleyorama2/invload/internal/respcheck"
)

// Request names, as reported in per-request stats.
const (
	RequestListProducts   = "ListarProductos"
	RequestStoreInventory = "store_inventory"
)

// Body check names.
const (
	CheckProductsSchema = "products match schema"
	CheckInventoryStore = "inventory belongs to store"
)

var productSchema = respcheck.MustCompileSchema(respcheck.ProductListSchema)

// Inventory is the iteration every VU repeats.
type Inventory struct {
	cfg          *config.TestConfig
	productsURL  string
	inventoryURL string
	think        time.Duration

	listChecks      []loadtest.Check
	inventoryChecks []loadtest.Check

	logger zerolog.Logger
}

// New builds the scenario. Defaults are applied to cfg first.
func New(cfg *config.TestConfig, logger zerolog.Logger) *Inventory {
	config.ApplyDefaults(cfg)

	base := strings.TrimRight(cfg.Settings.BaseURL, "/")
	storeID := cfg.Settings.StoreID

	maxList := cfg.Checks.MaxListDuration.GetDuration(config.DefaultMaxListDuration)

	s := &Inventory{
		cfg:          cfg,
		productsURL:  base + "/ListarProductos",
		inventoryURL: base + "/stores/" + url.PathEscape(storeID) + "/inventory",
		think:        cfg.ThinkTime(),
		listChecks: []loadtest.Check{
			loadtest.StatusIs(200),
			loadtest.DurationUnder(maxList),
		},
		inventoryChecks: []loadtest.Check{
			loadtest.StatusIs(200),
		},
		logger: logger.With().Str("component", "scenario").Logger(),
	}

	if cfg.Checks.Body {
		s.listChecks = append(s.listChecks, loadtest.Check{
			Name: CheckProductsSchema,
			Fn: func(r *loadtest.Response) bool {
				return r.Error == nil && productSchema.Validate(r.Body) == nil
			},
		})
		s.inventoryChecks = append(s.inventoryChecks, loadtest.Check{
			Name: CheckInventoryStore,
			Fn: func(r *loadtest.Response) bool {
				return r.Error == nil && respcheck.AllEqual(r.Body, "store_id", storeID)
			},
		})
	}

	s.logger.Debug().
		Str("products", s.productsURL).
		Str("inventory", s.inventoryURL).
		Dur("think", s.think).
		Bool("bodyChecks", cfg.Checks.Body).
		Msg("scenario ready")

	return s
}

// Options returns the configuration the engine reads before starting.
func (s *Inventory) Options() *config.TestConfig {
	return s.cfg
}

// ProductsURL returns the product listing URL.
func (s *Inventory) ProductsURL() string { return s.productsURL }

// InventoryURL returns the store inventory URL.
func (s *Inventory) InventoryURL() string { return s.inventoryURL }

// Think returns the pause at the end of each iteration.
func (s *Inventory) Think() time.Duration { return s.think }

// Run performs one iteration. Failed checks are recorded and never stop
// the iteration; the think time always follows both requests.
func (s *Inventory) Run(ctx context.Context, vu loadtest.VU) {
	res := vu.Get(ctx, RequestListProducts, s.productsURL)
	vu.Check(res, s.listChecks...)

	res = vu.Get(ctx, RequestStoreInventory, s.inventoryURL)
	vu.Check(res, s.inventoryChecks...)

	vu.Sleep(ctx, s.think)
}

var _ loadtest.Iteration = (*Inventory)(nil)
