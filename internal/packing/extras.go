package packing

import "github.com/jonathan/scout-agent/internal/types"

// capExtras applies the count and size caps to the catalog.
// Items are dropped from the tail first, never below one; the survivors'
// text fields are then halved, longest first, down to MinFieldRunes.
func capExtras(extras []types.CatalogItem, limits Limits) ([]types.CatalogItem, bool) {
	if len(extras) == 0 {
		return nil, false
	}

	truncated := false
	n := len(extras)
	if n > limits.MaxExtras {
		n = limits.MaxExtras
		truncated = true
	}
	items := make([]types.CatalogItem, n)
	copy(items, extras[:n])

	for len(items) > 1 && extrasSize(items) > limits.MaxExtrasBytes {
		items = items[:len(items)-1]
		truncated = true
	}

	for extrasSize(items) > limits.MaxExtrasBytes {
		field, length := longestField(items)
		if field == nil || length <= limits.MinFieldRunes {
			break
		}
		*field = TruncateRunes(*field, max(length/2, limits.MinFieldRunes))
		truncated = true
	}

	return items, truncated
}

func extrasSize(items []types.CatalogItem) int {
	body, err := encode(items)
	if err != nil {
		return 0
	}
	return len(body)
}

// longestField returns a pointer to the longest shortenable text field across items.
// Identifiers and titles are never shortened.
func longestField(items []types.CatalogItem) (*string, int) {
	var best *string
	bestLen := 0
	for i := range items {
		it := &items[i]
		for _, f := range []*string{&it.Summary, &it.Must, &it.Plus, &it.Person, &it.Appeal, &it.Location, &it.Salary, &it.Company} {
			if n := len([]rune(*f)); n > bestLen {
				best, bestLen = f, n
			}
		}
	}
	return best, bestLen
}
