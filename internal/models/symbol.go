package models

import (
	"fmt"
	"time"
)

// SymbolInfo is the cached metadata for one symbol, mirroring the provider's
// symbol search response.
type SymbolInfo struct {
	SymbolID        int64     `json:"symbolId" db:"symbol_id"`
	Symbol          string    `json:"symbol" db:"symbol"`
	Description     string    `json:"description" db:"description"`
	SecurityType    string    `json:"securityType" db:"security_type"`
	ListingExchange string    `json:"listingExchange" db:"listing_exchange"`
	IsTradable      bool      `json:"isTradable" db:"is_tradable"`
	IsQuotable      bool      `json:"isQuotable" db:"is_quotable"`
	Currency        string    `json:"currency" db:"currency"`
	UpdatedAt       time.Time `json:"-" db:"updated_at"`
}

// Validate checks the fields required for the symbol cache identity.
func (s *SymbolInfo) Validate() error {
	if s.SymbolID <= 0 {
		return &ValidationError{Field: "symbolId", Message: fmt.Sprintf("symbol id must be positive, got %d", s.SymbolID)}
	}
	if s.Symbol == "" {
		return &ValidationError{Field: "symbol", Message: "symbol cannot be empty"}
	}
	return nil
}

// String implements fmt.Stringer.
func (s *SymbolInfo) String() string {
	return fmt.Sprintf("SymbolInfo{ID: %d, Symbol: %s, Exchange: %s}", s.SymbolID, s.Symbol, s.ListingExchange)
}
