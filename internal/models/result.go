package models

import "time"

// Result is the terminal outcome of processing one offer.
type Result string

const (
	ResultSuccess          Result = "success"
	ResultDuplicate        Result = "duplicate"
	ResultRateLimited      Result = "rate_limited"
	ResultValidationFailed Result = "validation_failed"
	ResultError            Result = "error"
)

// IsValid reports whether the result is one of the known terminal states.
func (r Result) IsValid() bool {
	switch r {
	case ResultSuccess, ResultDuplicate, ResultRateLimited, ResultValidationFailed, ResultError:
		return true
	}
	return false
}

// ValidationStatus classifies an affiliate URL validation outcome.
type ValidationStatus string

const (
	ValidationValid   ValidationStatus = "valid"
	ValidationWarning ValidationStatus = "warning"
	ValidationInvalid ValidationStatus = "invalid"
	ValidationError   ValidationStatus = "error"
)

// ValidationResult is the derived outcome of validating an affiliate URL.
// It is never persisted.
type ValidationResult struct {
	Status  ValidationStatus `json:"status"`
	Score   float64          `json:"score"` // 0..1
	Reasons []string         `json:"reasons,omitempty"`
}

// DuplicateInfo describes the previously registered offer a duplicate matched.
type DuplicateInfo struct {
	Strategy   string    `json:"strategy"`
	MatchedKey string    `json:"matched_key"`
	Similarity float64   `json:"similarity"`
	OfferID    string    `json:"offer_id"`
	SeenAt     time.Time `json:"seen_at"`
}

// ProcessingResult is the terminal record emitted for one offer. It is
// consumed by the posting layer and by metrics, never persisted.
type ProcessingResult struct {
	Result           Result         `json:"result"`
	Offer            Offer          `json:"offer"`
	Source           string         `json:"source"`
	Reason           string         `json:"reason,omitempty"`
	DuplicateInfo    *DuplicateInfo `json:"duplicate_info,omitempty"`
	ValidationErrors []string       `json:"validation_errors,omitempty"`
	RetryAfter       time.Duration  `json:"retry_after,omitempty"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
}
