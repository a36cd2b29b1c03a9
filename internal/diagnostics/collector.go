package diagnostics

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/getpawsy/autoheal/internal/catalog"
	"gorm.io/gorm"
)

const storageProbeTimeout = 2 * time.Second

var startTime = time.Now()

// CatalogCounts is the read-only product breakdown.
type CatalogCounts struct {
	Total            int `json:"total"`
	Approved         int `json:"approved"`
	Blocked          int `json:"blocked"`
	MissingImage     int `json:"missing_image"`
	PlaceholderImage int `json:"placeholder_image"`
}

// Diagnostics is one point-in-time health snapshot. Counts only, no
// remediation.
type Diagnostics struct {
	CollectedAt      time.Time       `json:"collected_at"`
	UptimeSeconds    int64           `json:"uptime_seconds"`
	StorageConnected bool            `json:"storage_connected"`
	Catalog          CatalogCounts   `json:"catalog"`
	CatalogError     string          `json:"catalog_error,omitempty"`
	Counters         CounterSnapshot `json:"counters"`
}

// Collector aggregates process, storage, catalog, and counter state.
type Collector struct {
	db       *gorm.DB
	store    *catalog.Store
	counters *Counters
}

func NewCollector(db *gorm.DB, store *catalog.Store, counters *Counters) *Collector {
	return &Collector{db: db, store: store, counters: counters}
}

// Collect is side-effect-free and bounded: a missing or unparsable catalog
// yields zeroed counts, and the storage probe fails closed to "not connected".
func (c *Collector) Collect() Diagnostics {
	d := Diagnostics{
		CollectedAt:   time.Now().UTC(),
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Counters:      c.counters.Snapshot(),
	}

	d.StorageConnected = c.probeStorage()

	products, err := c.store.Load()
	if err != nil {
		d.CatalogError = err.Error()
		slog.Warn("Diagnostics catalog read failed", "error", err)
		return d
	}
	d.Catalog = countProducts(products)
	return d
}

func (c *Collector) probeStorage() bool {
	if c.db == nil {
		return false
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), storageProbeTimeout)
	defer cancel()
	return sqlDB.PingContext(ctx) == nil
}

func countProducts(products []catalog.Product) CatalogCounts {
	counts := CatalogCounts{Total: len(products)}
	for _, p := range products {
		if p.Active {
			counts.Approved++
		} else {
			counts.Blocked++
		}
		img := p.ResolvedImage
		if img == "" {
			img = p.Image
		}
		switch {
		case img == "" && len(p.Images) == 0 && p.ImageURL == "":
			counts.MissingImage++
		case strings.Contains(img, "placeholder"):
			counts.PlaceholderImage++
		}
	}
	return counts
}
