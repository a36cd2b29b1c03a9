package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_MissingFileIsEmptyCatalog(t *testing.T) {
	store := NewStore(t.TempDir())

	products, err := store.Load()

	assert.NoError(t, err)
	assert.Empty(t, products)
}

func TestLoad_UnparsableFileReportsError(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "products.json"), []byte("{{"), 0o644))

	_, err := NewStore(dir).Load()

	assert.Error(t, err)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	in := []Product{
		{ID: "p1", Title: "Dog Leash", Active: true, Price: 12.99},
		{ID: "p2", Title: "Cat Tree", Active: false},
	}

	assert.NoError(t, store.Save(in))
	out, err := store.Load()

	assert.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestProduct_UnknownFieldsSurviveRoundTrip(t *testing.T) {
	raw := []byte(`{"id":"p1","title":"Dog Bed","active":true,"warehouse_bin":"A-12","supplier":{"name":"acme"}}`)

	var p Product
	assert.NoError(t, json.Unmarshal(raw, &p))
	assert.Equal(t, "Dog Bed", p.Title)
	assert.Contains(t, p.Extra, "warehouse_bin")

	out, err := json.Marshal(p)
	assert.NoError(t, err)

	var m map[string]json.RawMessage
	assert.NoError(t, json.Unmarshal(out, &m))
	assert.JSONEq(t, `"A-12"`, string(m["warehouse_bin"]))
	assert.JSONEq(t, `{"name":"acme"}`, string(m["supplier"]))
}

func TestSave_BackupRetention(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	for i := 0; i < backupRetention+4; i++ {
		assert.NoError(t, store.Save([]Product{{ID: "p1", Active: true}}))
		time.Sleep(2 * time.Millisecond) // backup names are millisecond-timestamped
	}

	entries, err := os.ReadDir(filepath.Join(dir, ".backups"))
	assert.NoError(t, err)
	// First Save has nothing to back up.
	assert.Len(t, entries, backupRetention)
}

func TestKeywordClassifier(t *testing.T) {
	c := KeywordClassifier{}

	assert.True(t, c.Eligible(Product{Title: "Premium Dog Food"}))
	assert.True(t, c.Eligible(Product{Title: "Deluxe Tower", Category: "cat furniture"}))
	assert.False(t, c.Eligible(Product{Title: "Wireless Earbuds"}))
	assert.False(t, c.Eligible(Product{Title: "Cat Phone Case", Description: "phone case with cats"}),
		"blacklist term beats pet term")
}

func TestFlagStore_GetSet(t *testing.T) {
	flags := NewFlagStore(t.TempDir())

	assert.False(t, flags.Get("remote_image_fallback"))
	assert.NoError(t, flags.Set("remote_image_fallback", true))
	assert.True(t, flags.Get("remote_image_fallback"))
	assert.NoError(t, flags.Set("remote_image_fallback", false))
	assert.False(t, flags.Get("remote_image_fallback"))
}
