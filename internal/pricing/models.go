package pricing

import "errors"

// Product is a purchasable plan and the credits it awards.
type Product struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Credits int64  `json:"credits" yaml:"credits"`
}

// Built-in plans.
const (
	ProductEssencial = "essencial"
	ProductPremium   = "premium"
	ProductFamilia   = "familia"
)

var (
	ErrUnknownProduct = errors.New("pricing: unknown product")
	ErrInvalidTable   = errors.New("pricing: invalid price table")
)
