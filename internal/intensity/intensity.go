// Package intensity provides the default ghgIntensity/energyIntensity
// reference table for refrigerant substances, plus periodic refresh of
// that table the way a live emission-factor feed would be refreshed.
//
// A QubecTalk program sets its own intensity figures with `equals`/
// `uses energy` statements; the engine does not read this table, so a
// substance without them keeps zero intensity. The table is a reference
// for lookups such as a hosting API's `GET /v1/substances` style route.
package intensity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/qubectalk/internal/qubectalk/units"
)

// Source identifies where a substance's reference intensity came from.
type Source string

const (
	SourceAR6    Source = "ipcc_ar6"     // IPCC AR6 GWP-100 based figures
	SourceAHRI   Source = "ahri"         // AHRI equipment energy benchmarks
	SourceManual Source = "manual"       // operator-entered override
)

// Factor is a single substance's default GHG and energy intensity.
type Factor struct {
	Substance        string    `json:"substance"`
	Source           Source    `json:"source"`
	GHGIntensity     units.Quantity `json:"ghg_intensity"`
	EnergyIntensity  units.Quantity `json:"energy_intensity"`
	LastUpdated      time.Time `json:"last_updated"`
}

// Store persists and retrieves intensity factors. The only implementation
// is the in-memory MemoryStore below, used by cmd/cli and cmd/worker.
type Store interface {
	Upsert(ctx context.Context, factor Factor) error
	Get(ctx context.Context, substance string) (Factor, bool, error)
	List(ctx context.Context) ([]Factor, error)
}

// MemoryStore is a concurrency-safe in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	factors map[string]Factor
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{factors: make(map[string]Factor)}
}

func (s *MemoryStore) Upsert(_ context.Context, factor Factor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factors[factor.Substance] = factor
	return nil
}

func (s *MemoryStore) Get(_ context.Context, substance string) (Factor, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.factors[substance]
	return f, ok, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Factor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Factor, 0, len(s.factors))
	for _, f := range s.factors {
		out = append(out, f)
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)

// =============================================================================
// Default reference table
// =============================================================================

// defaultFactors mirrors the kind of GWP-100/energy-use reference data a
// refrigerant-tracking program starts from before a user overrides it.
// Values are illustrative AR6 GWP-100 figures and typical unit energy
// draws; a production deployment would source these from IPCC/AHRI feeds.
func defaultFactors() []Factor {
	now := time.Unix(0, 0).UTC() // stamped by callers; see RefreshOnce
	return []Factor{
		{
			Substance:       "HFC-134a",
			Source:          SourceAR6,
			GHGIntensity:    units.New(1430, "tCO2e / mt"),
			EnergyIntensity: units.New(550, "kwh / unit"),
			LastUpdated:     now,
		},
		{
			Substance:       "R-410A",
			Source:          SourceAR6,
			GHGIntensity:    units.New(2088, "tCO2e / mt"),
			EnergyIntensity: units.New(600, "kwh / unit"),
			LastUpdated:     now,
		},
		{
			Substance:       "R-404A",
			Source:          SourceAR6,
			GHGIntensity:    units.New(3922, "tCO2e / mt"),
			EnergyIntensity: units.New(480, "kwh / unit"),
			LastUpdated:     now,
		},
		{
			Substance:       "R-32",
			Source:          SourceAR6,
			GHGIntensity:    units.New(675, "tCO2e / mt"),
			EnergyIntensity: units.New(520, "kwh / unit"),
			LastUpdated:     now,
		},
		{
			Substance:       "R-290", // propane
			Source:          SourceAR6,
			GHGIntensity:    units.New(3, "tCO2e / mt"),
			EnergyIntensity: units.New(500, "kwh / unit"),
			LastUpdated:     now,
		},
		{
			Substance:       "R-744", // CO2
			Source:          SourceAR6,
			GHGIntensity:    units.New(1, "tCO2e / mt"),
			EnergyIntensity: units.New(620, "kwh / unit"),
			LastUpdated:     now,
		},
	}
}

// =============================================================================
// Refresher
// =============================================================================

// Refresher periodically repopulates a Store with the default reference
// table, stamping LastUpdated with the refresh time. It is the refrigerant
// analogue of an emission-factor-hub sync loop: instead of pulling from
// EPA/DEFRA/IEA endpoints it reloads a curated constant table, but the
// scheduling shape (ticker, logging, callback) is the same.
type Refresher struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	onUpdate func(Factor)
}

// RefresherConfig configures a Refresher.
type RefresherConfig struct {
	Store    Store
	Interval time.Duration
	Logger   *slog.Logger

	// now overrides time.Now for tests; defaults to time.Now.
	now func() time.Time
}

// NewRefresher creates a Refresher bound to store.
func NewRefresher(cfg RefresherConfig) *Refresher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	return &Refresher{
		store:    cfg.Store,
		interval: cfg.Interval,
		logger:   cfg.Logger.With("component", "intensity-refresher"),
		now:      cfg.now,
	}
}

// OnUpdate registers a callback invoked for every factor refreshed.
func (r *Refresher) OnUpdate(fn func(Factor)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onUpdate = fn
}

// Start runs the refresh loop until ctx is cancelled. It performs an
// initial sync immediately, then repeats every Interval.
func (r *Refresher) Start(ctx context.Context) {
	r.logger.Info("starting intensity refresher", "interval", r.interval)

	r.RefreshOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stopping intensity refresher")
			return
		case <-ticker.C:
			r.RefreshOnce(ctx)
		}
	}
}

// RefreshOnce performs a single synchronous refresh, useful for
// on-demand admin jobs as well as the periodic loop in Start.
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	stamp := r.now().UTC()
	factors := defaultFactors()

	for i := range factors {
		factors[i].LastUpdated = stamp
		if err := r.store.Upsert(ctx, factors[i]); err != nil {
			r.logger.Error("failed to store intensity factor",
				"substance", factors[i].Substance, "error", err)
			continue
		}

		r.mu.RLock()
		cb := r.onUpdate
		r.mu.RUnlock()
		if cb != nil {
			cb(factors[i])
		}
	}

	r.logger.Info("refreshed intensity factors", "count", len(factors))
	return nil
}

// Lookup provides convenient read-only access to a Store.
type Lookup struct {
	store Store
}

// NewLookup wraps store for read-only access.
func NewLookup(store Store) *Lookup {
	return &Lookup{store: store}
}

// Get returns the reference factor for substance, or an error if none
// has been loaded yet.
func (l *Lookup) Get(ctx context.Context, substance string) (Factor, error) {
	f, ok, err := l.store.Get(ctx, substance)
	if err != nil {
		return Factor{}, err
	}
	if !ok {
		return Factor{}, fmt.Errorf("intensity: no reference factor for substance %q", substance)
	}
	return f, nil
}

// List returns all known reference factors.
func (l *Lookup) List(ctx context.Context) ([]Factor, error) {
	return l.store.List(ctx)
}
