package product

import (
	"errors"
	"time"
)

const (
	StatusActive   = "active"
	StatusArchived = "archived"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrProductInactive = errors.New("product is not active")
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrStockExhausted  = errors.New("insufficient stock")
)

// Product is unit-counted purchasable inventory. Stock is mutated only
// through the optimistic update executor; name/price/status belong to
// catalog management.
type Product struct {
	ID        string    `json:"id"`
	SellerID  string    `json:"seller_id"`
	Name      string    `json:"name"`
	Price     int       `json:"price"`
	Stock     int       `json:"stock"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

func (p *Product) GetID() string    { return p.ID }
func (p *Product) GetVersion() int  { return p.Version }
func (p *Product) SetVersion(v int) { p.Version = v }

// Deduct removes quantity units of stock. Stock never goes negative at any
// committed state.
func (p *Product) Deduct(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if p.Status != StatusActive {
		return ErrProductInactive
	}
	if p.Stock < quantity {
		return ErrStockExhausted
	}
	p.Stock -= quantity
	return nil
}

// Restore returns quantity units of stock, e.g. on refund or reclaim.
func (p *Product) Restore(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	p.Stock += quantity
	return nil
}
