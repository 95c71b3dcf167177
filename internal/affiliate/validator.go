package affiliate

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/garimpeirogeek/dealgate/internal/logger"
	"github.com/garimpeirogeek/dealgate/internal/models"
)

// Scoring weights. The four component weights sum to 0.9; the cache-hit
// bonus closes the remaining 0.1 so a cached shortlink can reach 1.0.
const (
	weightURLFormat      = 0.3
	weightRequiredParams = 0.25
	weightDomain         = 0.2
	weightShortlink      = 0.15
	cacheHitBonus        = 0.1
)

// Status thresholds on the total score.
const (
	scoreValid   = 0.9
	scoreWarning = 0.5
)

// Validator scores converted affiliate URLs against the merchant rule
// table. It is stateless and safe for concurrent use.
type Validator struct {
	logger logger.Logger
}

func NewValidator(log logger.Logger) *Validator {
	return &Validator{logger: log}
}

// Validate scores affiliateURL for the merchant identified from
// originalURL. cacheHit grants the bonus for links that came out of the
// shortlink cache, since those were issued by the merchant's own panel.
func (v *Validator) Validate(originalURL, affiliateURL string, cacheHit bool) models.ValidationResult {
	merchant := IdentifyMerchant(originalURL)
	if merchant == MerchantUnknown {
		return models.ValidationResult{
			Status:  models.ValidationError,
			Score:   0,
			Reasons: []string{"no affiliate program covers this storefront"},
		}
	}
	rules, ok := Rules(merchant)
	if !ok {
		return models.ValidationResult{
			Status:  models.ValidationError,
			Score:   0,
			Reasons: []string{fmt.Sprintf("merchant %s has no rule set", merchant)},
		}
	}

	var reasons []string

	formatScore := urlFormatScore(affiliateURL, rules)
	if formatScore < 1.0 {
		reasons = append(reasons, fmt.Sprintf("url format score %.1f", formatScore))
	}

	paramsScore := requiredParamsScore(affiliateURL, rules)
	if paramsScore < 1.0 {
		reasons = append(reasons, fmt.Sprintf("missing required params (%s)", strings.Join(rules.RequiredParams, ",")))
	}

	domScore := domainScore(affiliateURL, rules)
	if domScore < 1.0 {
		reasons = append(reasons, "points at a raw storefront domain")
	}

	shortScore := shortlinkQualityScore(affiliateURL, rules)

	total := formatScore*weightURLFormat +
		paramsScore*weightRequiredParams +
		domScore*weightDomain +
		shortScore*weightShortlink
	if cacheHit {
		total += cacheHitBonus
	}

	status := models.ValidationInvalid
	switch {
	case total >= scoreValid:
		status = models.ValidationValid
	case total >= scoreWarning:
		status = models.ValidationWarning
	}

	v.logger.Debug("affiliate url validated",
		logger.String("merchant", string(merchant)),
		logger.Float64("score", total),
		logger.String("status", string(status)),
	)

	return models.ValidationResult{Status: status, Score: total, Reasons: reasons}
}

// urlFormatScore grades how closely the URL matches the merchant's
// expected affiliate formats.
func urlFormatScore(affiliateURL string, rules *RuleSet) float64 {
	if rules.Shortlink.MatchString(affiliateURL) {
		return 1.0
	}
	if rules.AffiliateURL.MatchString(affiliateURL) {
		return 0.9
	}
	u, err := url.Parse(affiliateURL)
	if err == nil && u.Scheme != "" && u.Host != "" {
		return 0.5
	}
	return 0.0
}

// requiredParamsScore is the fraction of required query parameters
// present. Shortlinks carry the affiliation server-side and score full.
func requiredParamsScore(affiliateURL string, rules *RuleSet) float64 {
	if len(rules.RequiredParams) == 0 {
		return 1.0
	}
	if rules.Shortlink.MatchString(affiliateURL) {
		return 1.0
	}
	u, err := url.Parse(affiliateURL)
	if err != nil {
		return 0.0
	}
	query := u.Query()
	found := 0
	for _, param := range rules.RequiredParams {
		if query.Has(param) {
			found++
		}
	}
	return float64(found) / float64(len(rules.RequiredParams))
}

// domainScore is zero when the URL points at a blocked raw storefront
// domain, since such links earn no commission.
func domainScore(affiliateURL string, rules *RuleSet) float64 {
	u, err := url.Parse(affiliateURL)
	if err != nil || u.Host == "" {
		return 0.0
	}
	host := strings.ToLower(u.Host)
	for _, blocked := range rules.BlockedDomains {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return 0.0
		}
	}
	return 1.0
}

// shortlinkQualityScore prefers compact shortlinks over full affiliate
// URLs, and penalizes unwieldy links that hurt click-through.
func shortlinkQualityScore(affiliateURL string, rules *RuleSet) float64 {
	if rules.Shortlink.MatchString(affiliateURL) {
		return 1.0
	}
	if rules.AffiliateURL.MatchString(affiliateURL) {
		return 0.7
	}
	if len(affiliateURL) > 200 {
		return 0.3
	}
	return 0.5
}
