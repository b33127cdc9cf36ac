package crawler

import (
	"context"
	"fmt"
)

// Item is one unit of work inside a task.
type Item struct {
	URL      string
	Label    string
	Category string
}

// ItemSource enumerates the items of a task. A full source expands a listing
// page through a Catalog; a single source holds exactly one item.
type ItemSource struct {
	Kind       TaskKind
	ListingURL string
	Item       Item
}

// SourceFor builds the item source described by a queue payload.
func SourceFor(p Payload) ItemSource {
	if p.Kind == TaskKindFull {
		return ItemSource{Kind: TaskKindFull, ListingURL: p.URL}
	}
	return ItemSource{Kind: TaskKindSingle, Item: Item{URL: p.URL, Label: p.URL}}
}

// Items returns the items to process. Only full sources consult the catalog.
func (s ItemSource) Items(ctx context.Context, catalog Catalog) ([]Item, error) {
	switch s.Kind {
	case TaskKindFull:
		if catalog == nil {
			return nil, fmt.Errorf("no catalog configured for %s", s.ListingURL)
		}
		items, err := catalog.Discover(ctx, s.ListingURL)
		if err != nil {
			return nil, fmt.Errorf("discover %s: %w", s.ListingURL, err)
		}
		return items, nil
	case TaskKindSingle:
		return []Item{s.Item}, nil
	default:
		return nil, fmt.Errorf("%w: unknown task_type %q", ErrInvalidInput, s.Kind)
	}
}
