package dedup

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garimpeirogeek/dealgate/internal/logger"
	"github.com/garimpeirogeek/dealgate/internal/models"
)

// Strategy identifies which index matched a duplicate, ordered from
// most specific to least.
type Strategy string

const (
	StrategyCanonicalURL    Strategy = "canonical_url"
	StrategyMerchantID      Strategy = "merchant_id"
	StrategyTitlePriceStore Strategy = "title_price_store"
	StrategyFingerprint     Strategy = "content_fingerprint"
)

// DefaultTTL is how long registered offers stay in the index.
const DefaultTTL = 24 * time.Hour

// Entry records a previously admitted offer under one or more keys.
type Entry struct {
	OfferID string          `json:"offer_id"`
	Title   string          `json:"title"`
	Price   decimal.Decimal `json:"price"`
	Store   string          `json:"store"`
	SeenAt  time.Time       `json:"seen_at"`
}

// Result is the outcome of one duplicate check.
type Result struct {
	IsDuplicate bool
	Strategy    Strategy
	MatchedKey  string
	Similarity  float64
	Reason      string
	Matched     *Entry
}

// Stats holds index counters and sizes.
type Stats struct {
	Checks          int64 `json:"checks"`
	Duplicates      int64 `json:"duplicates"`
	Registered      int64 `json:"registered"`
	Evicted         int64 `json:"evicted"`
	URLKeys         int   `json:"url_keys"`
	MerchantKeys    int   `json:"merchant_keys"`
	TitleKeys       int   `json:"title_keys"`
	FingerprintKeys int   `json:"fingerprint_keys"`
}

// Index is the process-wide duplication index. Check-and-register is a
// single critical section, so at most one concurrent caller can admit a
// given offer identity.
type Index struct {
	mu            sync.Mutex
	byURL         map[string]*Entry
	byMerchantID  map[string]*Entry
	byTitlePrice  map[string]*Entry
	byFingerprint map[string]*Entry

	ttl    time.Duration
	logger logger.Logger
	now    func() time.Time

	checks     int64
	duplicates int64
	registered int64
	evicted    int64
}

// NewIndex creates an empty index with the given entry TTL.
func NewIndex(ttl time.Duration, log logger.Logger) *Index {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Index{
		byURL:         make(map[string]*Entry),
		byMerchantID:  make(map[string]*Entry),
		byTitlePrice:  make(map[string]*Entry),
		byFingerprint: make(map[string]*Entry),
		ttl:           ttl,
		logger:        log,
		now:           time.Now,
	}
}

// Check evaluates the four strategies in order, short-circuiting on the
// first match. When no strategy matches, the offer is registered under
// all four keys before the lock is released, so concurrent checks on
// the same identity admit exactly one offer.
//
// Check never fails: an internal error is logged and reported as "not
// duplicate", favoring availability of posting over strict dedup.
func (i *Index) Check(offer *models.Offer) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("dedup check internal failure, admitting offer",
				logger.String("offer_id", offer.ID),
				logger.Any("panic", r),
			)
			result = Result{IsDuplicate: false, Reason: "internal failure, admitted conservatively"}
		}
	}()

	urlKey := CanonicalURL(offer.URL)
	merchantKey := merchantIDKey(offer)
	titleKey := titlePriceStoreKey(offer)
	fpKey := Fingerprint(offer)

	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()
	i.checks++
	i.evictExpired(now)

	if entry, ok := i.byURL[urlKey]; ok {
		return i.duplicateResult(StrategyCanonicalURL, urlKey, 1.0, entry)
	}
	if merchantKey != "" {
		if entry, ok := i.byMerchantID[merchantKey]; ok {
			return i.duplicateResult(StrategyMerchantID, merchantKey, 1.0, entry)
		}
	}
	if entry, ok := i.byTitlePrice[titleKey]; ok {
		return i.duplicateResult(StrategyTitlePriceStore, titleKey, 0.9, entry)
	}
	if entry, ok := i.byFingerprint[fpKey]; ok {
		return i.duplicateResult(StrategyFingerprint, fpKey, 0.85, entry)
	}

	entry := &Entry{
		OfferID: offer.ID,
		Title:   offer.Title,
		Price:   offer.Price,
		Store:   offer.Store,
		SeenAt:  now,
	}
	i.byURL[urlKey] = entry
	if merchantKey != "" {
		i.byMerchantID[merchantKey] = entry
	}
	i.byTitlePrice[titleKey] = entry
	i.byFingerprint[fpKey] = entry
	i.registered++

	return Result{IsDuplicate: false}
}

// Forget removes an offer's own registration, so a retry after a
// transient downstream denial is not misread as a duplicate. Keys held
// by other offers are left alone.
func (i *Index) Forget(offer *models.Offer) {
	urlKey := CanonicalURL(offer.URL)
	merchantKey := merchantIDKey(offer)
	titleKey := titlePriceStoreKey(offer)
	fpKey := Fingerprint(offer)

	i.mu.Lock()
	defer i.mu.Unlock()

	forget(i.byURL, urlKey, offer.ID)
	forget(i.byMerchantID, merchantKey, offer.ID)
	forget(i.byTitlePrice, titleKey, offer.ID)
	forget(i.byFingerprint, fpKey, offer.ID)
}

func forget(index map[string]*Entry, key, offerID string) {
	if key == "" {
		return
	}
	if entry, ok := index[key]; ok && entry.OfferID == offerID {
		delete(index, key)
	}
}

// ClearCache drops every registered entry.
func (i *Index) ClearCache() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.byURL = make(map[string]*Entry)
	i.byMerchantID = make(map[string]*Entry)
	i.byTitlePrice = make(map[string]*Entry)
	i.byFingerprint = make(map[string]*Entry)
	i.logger.Info("dedup index cleared")
}

// Stats returns counters and per-index sizes.
func (i *Index) Stats() Stats {
	i.mu.Lock()
	defer i.mu.Unlock()
	return Stats{
		Checks:          i.checks,
		Duplicates:      i.duplicates,
		Registered:      i.registered,
		Evicted:         i.evicted,
		URLKeys:         len(i.byURL),
		MerchantKeys:    len(i.byMerchantID),
		TitleKeys:       len(i.byTitlePrice),
		FingerprintKeys: len(i.byFingerprint),
	}
}

// evictExpired lazily drops entries past their TTL. Called with i.mu
// held. Pacing only: expiry is also implied by SeenAt on read.
func (i *Index) evictExpired(now time.Time) {
	cutoff := now.Add(-i.ttl)
	for _, index := range []map[string]*Entry{i.byURL, i.byMerchantID, i.byTitlePrice, i.byFingerprint} {
		for key, entry := range index {
			if entry.SeenAt.Before(cutoff) {
				delete(index, key)
				i.evicted++
			}
		}
	}
}

// duplicateResult builds a duplicate Result. Called with i.mu held.
func (i *Index) duplicateResult(strategy Strategy, key string, similarity float64, entry *Entry) Result {
	i.duplicates++
	matched := *entry
	return Result{
		IsDuplicate: true,
		Strategy:    strategy,
		MatchedKey:  key,
		Similarity:  similarity,
		Reason:      fmt.Sprintf("matched offer %s via %s", entry.OfferID, strategy),
		Matched:     &matched,
	}
}

func merchantIDKey(offer *models.Offer) string {
	if offer.MerchantID == "" {
		return ""
	}
	return strings.ToLower(offer.Store) + ":" + strings.ToUpper(offer.MerchantID)
}

func titlePriceStoreKey(offer *models.Offer) string {
	return strings.Join([]string{
		strings.ToLower(offer.Store),
		NormalizeTitle(offer.Title),
		PriceBucket(offer.Price),
	}, "|")
}
