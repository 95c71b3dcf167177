// Package dedup implements the multi-strategy offer duplicate detector.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/garimpeirogeek/dealgate/internal/models"
)

// Tracking parameters stripped during URL canonicalization. Parameters
// with the utm_ prefix are stripped regardless of this list.
var trackingParams = map[string]struct{}{
	"ref":      {},
	"ref_":     {},
	"fbclid":   {},
	"gclid":    {},
	"msclkid":  {},
	"igshid":   {},
	"srsltid":  {},
	"spm":      {},
	"mc_cid":   {},
	"mc_eid":   {},
	"smid":     {},
	"linkcode": {},
}

var asinPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/dp/([A-Z0-9]{10})`),
	regexp.MustCompile(`(?i)/gp/product/([A-Z0-9]{10})`),
	regexp.MustCompile(`(?i)/product/([A-Z0-9]{10})`),
	regexp.MustCompile(`(?i)[?&]asin=([A-Z0-9]{10})`),
}

// Stop-words removed during title normalization. The list covers the
// Portuguese storefronts the scrapers target plus common English fillers.
var stopWords = map[string]struct{}{
	"o": {}, "a": {}, "de": {}, "da": {}, "do": {}, "em": {},
	"para": {}, "com": {}, "sem": {}, "por": {}, "e": {}, "ou": {},
	"the": {}, "of": {}, "for": {}, "with": {}, "and": {},
}

var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// CanonicalURL normalizes a product URL for exact-match deduplication:
// tracking parameters are stripped, remaining query parameters are
// sorted, the fragment is dropped, and Amazon product URLs collapse to
// the bare /dp/{ASIN} path.
func CanonicalURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(rawURL)
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if strings.Contains(u.Host, "amazon.") || strings.Contains(u.Host, "amzn.") {
		if asin := ExtractASIN(rawURL); asin != "" {
			u.Path = "/dp/" + asin
			u.RawQuery = ""
			return u.String()
		}
	}

	query := u.Query()
	for param := range query {
		lower := strings.ToLower(param)
		if strings.HasPrefix(lower, "utm_") {
			query.Del(param)
			continue
		}
		if _, tracked := trackingParams[lower]; tracked {
			query.Del(param)
		}
	}
	u.RawQuery = sortedEncode(query)
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

// ExtractASIN pulls an Amazon ASIN out of a product URL, or "".
func ExtractASIN(rawURL string) string {
	for _, pattern := range asinPatterns {
		if m := pattern.FindStringSubmatch(rawURL); m != nil {
			return strings.ToUpper(m[1])
		}
	}
	return ""
}

// NormalizeTitle lowercases, strips accents and punctuation, removes
// stop-words and single-character tokens, and sorts the remaining
// tokens so word order does not defeat matching.
func NormalizeTitle(title string) string {
	lowered := strings.ToLower(strings.TrimSpace(title))
	if stripped, _, err := transform.String(accentStripper, lowered); err == nil {
		lowered = stripped
	}

	var b strings.Builder
	for _, r := range lowered {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	tokens := make([]string, 0, 8)
	for _, tok := range strings.Fields(b.String()) {
		if len(tok) < 2 {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// priceBucketBounds are the upper bounds of the fixed price bands.
var priceBucketBounds = []int64{50, 100, 200, 500, 1000, 1500, 2500}

// PriceBucket maps a price onto a fixed band label so near-identical
// listings with rounding differences still collide.
func PriceBucket(price decimal.Decimal) string {
	lower := int64(0)
	for _, bound := range priceBucketBounds {
		if price.LessThan(decimal.NewFromInt(bound)) {
			return fmt.Sprintf("%d-%d", lower, bound)
		}
		lower = bound
	}
	return "2500+"
}

// Fingerprint hashes the content-identifying fields of an offer.
func Fingerprint(offer *models.Offer) string {
	parts := []string{
		NormalizeTitle(offer.Title),
		strings.ToLower(offer.Store),
		offer.Price.StringFixed(2),
		strings.ToLower(offer.Category),
		strings.ToLower(offer.Brand),
		strings.ToLower(offer.Model),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// sortedEncode encodes query values with deterministic parameter order.
func sortedEncode(values url.Values) string {
	return values.Encode() // url.Values.Encode sorts by key
}
