package models

import "errors"

// Common errors
var (
	// ErrEmptyTitle is returned when an offer is constructed without a title
	ErrEmptyTitle = errors.New("offer title is required")

	// ErrInvalidPrice is returned when an offer price is zero or negative
	ErrInvalidPrice = errors.New("offer price must be positive")

	// ErrInvalidOriginalPrice is returned when the original price is not above the current price
	ErrInvalidOriginalPrice = errors.New("original price must be greater than current price")

	// ErrInvalidURL is returned when an offer URL is not an absolute http(s) URL
	ErrInvalidURL = errors.New("offer url must be an absolute http(s) url")

	// ErrEmptyStore is returned when an offer is constructed without a store name
	ErrEmptyStore = errors.New("offer store is required")

	// ErrUnknownMerchant is returned when a URL does not map to any configured merchant
	ErrUnknownMerchant = errors.New("unknown merchant")
)
