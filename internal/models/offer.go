// Package models defines the core domain types for the dealgate service.
package models

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Offer represents one scraped deal.
//
// Offers are constructed via NewOffer, which enforces the field invariants,
// and are passed by value through the pipeline. The pipeline never mutates
// an offer in place; WithAffiliateURL returns a derived copy.
type Offer struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Price         decimal.Decimal `json:"price"`
	OriginalPrice decimal.Decimal `json:"original_price,omitempty"`
	URL           string          `json:"url"`
	AffiliateURL  string          `json:"affiliate_url,omitempty"`
	Store         string          `json:"store"`
	MerchantID    string          `json:"merchant_id,omitempty"` // SKU/ASIN when known
	Category      string          `json:"category,omitempty"`
	Brand         string          `json:"brand,omitempty"`
	Model         string          `json:"model,omitempty"`
	ScrapedAt     time.Time       `json:"scraped_at"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewOffer builds a validated Offer. It rejects an empty title, a
// non-positive price, a malformed or non-http(s) URL, an empty store,
// and an original price at or below the current price.
func NewOffer(title string, price decimal.Decimal, rawURL, store string) (Offer, error) {
	now := time.Now().UTC()
	offer := Offer{
		ID:        uuid.NewString(),
		Title:     strings.TrimSpace(title),
		Price:     price,
		URL:       strings.TrimSpace(rawURL),
		Store:     strings.TrimSpace(store),
		ScrapedAt: now,
		CreatedAt: now,
	}
	if err := offer.Validate(); err != nil {
		return Offer{}, err
	}
	return offer, nil
}

// Validate checks the construction-time invariants.
func (o *Offer) Validate() error {
	if o.Title == "" {
		return ErrEmptyTitle
	}
	if !o.Price.IsPositive() {
		return ErrInvalidPrice
	}
	if !isAbsoluteHTTPURL(o.URL) {
		return ErrInvalidURL
	}
	if o.Store == "" {
		return ErrEmptyStore
	}
	if !o.OriginalPrice.IsZero() && o.OriginalPrice.LessThanOrEqual(o.Price) {
		return ErrInvalidOriginalPrice
	}
	return nil
}

// WithAffiliateURL returns a copy of the offer carrying the affiliate URL.
func (o Offer) WithAffiliateURL(affiliateURL string) Offer {
	o.AffiliateURL = affiliateURL
	return o
}

// DiscountPercent returns the discount relative to the original price,
// rounded to two places. Zero when no original price is set.
func (o *Offer) DiscountPercent() decimal.Decimal {
	if o.OriginalPrice.IsZero() || !o.OriginalPrice.IsPositive() {
		return decimal.Zero
	}
	hundred := decimal.NewFromInt(100)
	return hundred.Sub(o.Price.Div(o.OriginalPrice).Mul(hundred)).Round(2)
}

func isAbsoluteHTTPURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
