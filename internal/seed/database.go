package seed

import (
	"context"
	"fmt"

	"github.com/andresmejia3/cymatic/internal/store"
)

// Lister is the read side of the descriptor store.
type Lister interface {
	ListDescriptors(ctx context.Context) ([]store.Descriptor, error)
}

// Database reads a profile from the PostgreSQL descriptor table.
type Database struct {
	Store Lister
}

func (d Database) Load(ctx context.Context) (Profile, error) {
	rows, err := d.Store.ListDescriptors(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed descriptors: %w", err)
	}
	p := FromRows(rows)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// FromRows groups one-descriptor-per-row results by label, keeping the
// order in which labels first appear.
func FromRows(rows []store.Descriptor) Profile {
	index := make(map[string]int)
	var p Profile
	for _, r := range rows {
		i, ok := index[r.Label]
		if !ok {
			i = len(p)
			index[r.Label] = i
			p = append(p, Entry{Label: r.Label})
		}
		p[i].Descriptors = append(p[i].Descriptors, r.Vector)
	}
	return p
}
