// Package catalog loads the job catalog sent to the matching service as context.
package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/scout-agent/internal/types"
)

// Catalog defaults
const (
	DefaultSheet      = "Job_Database"
	DefaultOpenStatus = "募集中"
	DefaultMaxItems   = 50
)

// ErrUnsupportedFormat is returned for catalog files that are neither .json nor .xlsx
var ErrUnsupportedFormat = errors.New("unsupported catalog format")

// Options controls which catalog entries are kept
type Options struct {
	Sheet      string `json:"sheet,omitempty" toml:"sheet"`
	OpenStatus string `json:"open_status,omitempty" toml:"open_status"`
	MaxItems   int    `json:"max_items,omitempty" toml:"max_items"`
}

// DefaultOptions returns the standard catalog options.
func DefaultOptions() Options {
	return Options{Sheet: DefaultSheet, OpenStatus: DefaultOpenStatus, MaxItems: DefaultMaxItems}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Sheet == "" {
		o.Sheet = d.Sheet
	}
	if o.OpenStatus == "" {
		o.OpenStatus = d.OpenStatus
	}
	if o.MaxItems <= 0 {
		o.MaxItems = d.MaxItems
	}
	return o
}

var validate = validator.New()

// Load reads a catalog from a .json or .xlsx file and filters it.
func Load(path string, opts Options, logger *slog.Logger) ([]types.CatalogItem, error) {
	opts = opts.withDefaults()

	var (
		items []types.CatalogItem
		err   error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		items, err = ReadJSON(path)
	case ".xlsx":
		items, err = ReadXLSX(path, opts.Sheet)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return nil, err
	}
	return Filter(items, opts, logger), nil
}

// Filter keeps open, valid items, drops repeated company+title pairs and caps the count.
// Items without a status are treated as open.
func Filter(items []types.CatalogItem, opts Options, logger *slog.Logger) []types.CatalogItem {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()

	out := make([]types.CatalogItem, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		item = trimItem(item)
		if item.Status != "" && item.Status != opts.OpenStatus {
			continue
		}
		if err := validate.Struct(item); err != nil {
			logger.Warn("catalog.invalid_item", "id", item.ID, "error", err)
			continue
		}
		key := dedupeKey(item)
		if seen[key] {
			logger.Debug("catalog.duplicate", "id", item.ID, "company", item.Company, "title", item.Title)
			continue
		}
		seen[key] = true
		out = append(out, item)
		if len(out) == opts.MaxItems {
			break
		}
	}
	return out
}

func dedupeKey(item types.CatalogItem) string {
	return item.Company + "\x00" + item.Title
}

func trimItem(item types.CatalogItem) types.CatalogItem {
	item.ID = strings.TrimSpace(item.ID)
	item.Company = strings.TrimSpace(item.Company)
	item.Title = strings.TrimSpace(item.Title)
	item.Status = strings.TrimSpace(item.Status)
	return item
}
