package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const backupRetention = 10

// Product mirrors one row of the storefront's products.json document. Fields
// not modelled here survive round-trips through Extra.
type Product struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Category       string   `json:"category,omitempty"`
	Active         bool     `json:"active"`
	Price          float64  `json:"price,omitempty"`
	Cost           float64  `json:"cost,omitempty"`
	OriginalPrice  float64  `json:"original_price,omitempty"`
	Images         []string `json:"images,omitempty"`
	Thumbnails     []string `json:"thumbnails,omitempty"`
	Image          string   `json:"image,omitempty"`
	ImageURL       string   `json:"imageUrl,omitempty"`
	VendorImage    string   `json:"vendor_image,omitempty"`
	ResolvedImage  string   `json:"resolved_image,omitempty"`
	SEOTitle       string   `json:"seo_title,omitempty"`
	SEODescription string   `json:"seo_description,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

func (p *Product) UnmarshalJSON(data []byte) error {
	type alias Product
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	known := knownProductKeys()
	for k := range raw {
		if known[k] {
			delete(raw, k)
		}
	}
	*p = Product(a)
	if len(raw) > 0 {
		p.Extra = raw
	}
	return nil
}

func (p Product) MarshalJSON() ([]byte, error) {
	type alias Product
	base, err := json.Marshal(alias(p))
	if err != nil {
		return nil, err
	}
	if len(p.Extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range p.Extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

func knownProductKeys() map[string]bool {
	return map[string]bool{
		"id": true, "title": true, "description": true, "category": true,
		"active": true, "price": true, "cost": true, "original_price": true,
		"images": true, "thumbnails": true, "image": true, "imageUrl": true,
		"vendor_image": true, "resolved_image": true,
		"seo_title": true, "seo_description": true,
	}
}

// Store is the whole-document catalog file. Every write is read-modify-write
// with a file-level backup taken first; the mutex keeps writers within this
// process sequential.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(dataDir string) *Store {
	return &Store{path: filepath.Join(dataDir, "products.json")}
}

func (s *Store) Path() string {
	return s.path
}

// Load reads the full catalog. A missing or unparsable file degrades to an
// empty catalog with the error reported to the caller, never a panic.
func (s *Store) Load() ([]Product, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Product{}, nil
		}
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var products []Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return products, nil
}

// Save backs up the current document, then writes the new one atomically.
func (s *Store) Save(products []Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backup(); err != nil {
		slog.Warn("Catalog backup failed, writing anyway", "error", err)
	}

	data, err := json.MarshalIndent(products, "", "  ")
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) backup() error {
	src, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	dir := filepath.Join(filepath.Dir(s.path), ".backups")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("products-%s.json", time.Now().UTC().Format("20060102T150405.000"))
	if err := os.WriteFile(filepath.Join(dir, name), src, 0o644); err != nil {
		return err
	}
	return pruneBackups(dir, backupRetention)
}

func pruneBackups(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) <= keep {
		return nil
	}
	sort.Strings(names) // timestamped names sort oldest first
	for _, name := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}
