package pricing

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Table maps product ids to credit quantities. It is built once at startup
// and is read-only afterwards, so it is safe for concurrent use.
type Table struct {
	products map[string]Product
}

// DefaultTable is the canonical plan table.
func DefaultTable() *Table {
	t, _ := NewTable([]Product{
		{ID: ProductEssencial, Name: "Essencial", Credits: 1},
		{ID: ProductPremium, Name: "Premium", Credits: 5},
		{ID: ProductFamilia, Name: "Família", Credits: 13},
	})
	return t
}

// NewTable validates products: ids non-empty and unique ignoring case, credits > 0.
func NewTable(products []Product) (*Table, error) {
	if len(products) == 0 {
		return nil, fmt.Errorf("%w: no products", ErrInvalidTable)
	}
	m := make(map[string]Product, len(products))
	for _, p := range products {
		id := normalize(p.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: product without id", ErrInvalidTable)
		}
		if p.Credits <= 0 {
			return nil, fmt.Errorf("%w: product %q must award credits", ErrInvalidTable, p.ID)
		}
		if _, dup := m[id]; dup {
			return nil, fmt.Errorf("%w: duplicate product %q", ErrInvalidTable, p.ID)
		}
		p.ID = id
		m[id] = p
	}
	return &Table{products: m}, nil
}

type tableFile struct {
	Products []Product `yaml:"products"`
}

// LoadFile reads a YAML price table:
//
//	products:
//	  - {id: essencial, name: Essencial, credits: 1}
func LoadFile(path string) (*Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f tableFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	return NewTable(f.Products)
}

// Credits returns how many credits productID awards.
func (t *Table) Credits(productID string) (int64, error) {
	p, ok := t.products[normalize(productID)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownProduct, productID)
	}
	return p.Credits, nil
}

// Products lists the table ordered by credits.
func (t *Table) Products() []Product {
	out := make([]Product, 0, len(t.products))
	for _, p := range t.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Credits != out[j].Credits {
			return out[i].Credits < out[j].Credits
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func normalize(id string) string { return strings.ToLower(strings.TrimSpace(id)) }
