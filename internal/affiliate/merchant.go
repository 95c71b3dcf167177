// Package affiliate validates and builds affiliate links for the
// storefront programs the bot earns commission from.
package affiliate

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Merchant is a storefront with an active affiliate program. The set is
// closed: URLs that match none of the configured merchants are rejected
// rather than passed through.
type Merchant string

const (
	MerchantAmazon       Merchant = "amazon"
	MerchantMercadoLivre Merchant = "mercadolivre"
	MerchantMagalu       Merchant = "magalu"
	MerchantShopee       Merchant = "shopee"
	MerchantAliExpress   Merchant = "aliexpress"
	MerchantAwin         Merchant = "awin"
	MerchantUnknown      Merchant = ""
)

// RuleSet describes how a merchant's converted links must look.
type RuleSet struct {
	// Shortlink matches the merchant's shortened affiliate format.
	Shortlink *regexp.Regexp
	// AffiliateURL matches the full-length affiliate format.
	AffiliateURL *regexp.Regexp
	// RequiredParams must all be present on a full-length affiliate URL.
	// Shortlinks carry the affiliation server-side and are exempt.
	RequiredParams []string
	// BlockedDomains are raw storefront hosts a converted link must not
	// point at. A link on one of these earns no commission.
	BlockedDomains []string
	// Domains identify the merchant from a product URL host.
	Domains []string
}

var ruleTable = map[Merchant]*RuleSet{
	MerchantAmazon: {
		Shortlink:      regexp.MustCompile(`^https?://amzn\.to/[A-Za-z0-9]+$`),
		AffiliateURL:   regexp.MustCompile(`^https?://[^/]+/dp/[A-Z0-9]{10}\?.*tag=`),
		RequiredParams: []string{"tag"},
		BlockedDomains: []string{},
		Domains:        []string{"amazon.com.br", "amazon.com", "amzn.to"},
	},
	MerchantMercadoLivre: {
		Shortlink:      regexp.MustCompile(`^https?://(?:www\.)?mercadolivre\.com(?:\.br)?/sec/[A-Za-z0-9]+$`),
		AffiliateURL:   regexp.MustCompile(`^https?://(?:www\.)?mercadolivre\.com\.br/social/[a-z0-9]+\?.*matt_word=`),
		RequiredParams: []string{"matt_word"},
		BlockedDomains: []string{"produto.mercadolivre.com.br"},
		Domains:        []string{"mercadolivre.com.br", "mercadolivre.com"},
	},
	MerchantMagalu: {
		Shortlink:      regexp.MustCompile(`^https?://(?:www\.)?magazinevoce\.com\.br/magazine[a-z0-9]+/.*/p/\d+`),
		AffiliateURL:   regexp.MustCompile(`^https?://(?:www\.)?magazinevoce\.com\.br/magazine[a-z0-9]+/`),
		RequiredParams: []string{},
		BlockedDomains: []string{"magazineluiza.com.br"},
		Domains:        []string{"magazineluiza.com.br", "magazinevoce.com.br"},
	},
	MerchantShopee: {
		Shortlink:      regexp.MustCompile(`^https?://s\.shopee\.com\.br/[A-Za-z0-9]+$`),
		AffiliateURL:   regexp.MustCompile(`^https?://s\.shopee\.com\.br/[A-Za-z0-9]+$`),
		RequiredParams: []string{},
		BlockedDomains: []string{"shopee.com.br"},
		Domains:        []string{"shopee.com.br"},
	},
	MerchantAliExpress: {
		Shortlink:      regexp.MustCompile(`^https?://s\.click\.aliexpress\.com/e/[A-Za-z0-9_-]+$`),
		AffiliateURL:   regexp.MustCompile(`^https?://s\.click\.aliexpress\.com/e/[A-Za-z0-9_-]+$`),
		RequiredParams: []string{},
		BlockedDomains: []string{"aliexpress.com", "pt.aliexpress.com"},
		Domains:        []string{"aliexpress.com"},
	},
	MerchantAwin: {
		Shortlink:      regexp.MustCompile(`^https?://tidd\.ly/[A-Za-z0-9]+$`),
		AffiliateURL:   regexp.MustCompile(`^https?://www\.awin1\.com/cread\.php\?awinmid=\d+&awinaffid=\d+&ued=`),
		RequiredParams: []string{"awinmid", "awinaffid", "ued"},
		BlockedDomains: []string{},
		Domains:        []string{"awin1.com"},
	},
}

// awinPrograms maps the Awin-network storefronts the bot scrapes to
// their Awin merchant IDs.
var awinPrograms = map[string]string{
	"comfy":   "23377",
	"trocafy": "51277",
	"lg":      "33061",
	"kabum":   "17729",
	"ninja":   "106765",
	"samsung": "25539",
}

// Rules returns the rule set for a merchant.
func Rules(m Merchant) (*RuleSet, bool) {
	rs, ok := ruleTable[m]
	return rs, ok
}

// IdentifyMerchant maps a product URL onto its affiliate program, or
// MerchantUnknown when no program covers the storefront.
func IdentifyMerchant(rawURL string) Merchant {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return MerchantUnknown
	}
	host := strings.ToLower(u.Host)

	for merchant, rs := range ruleTable {
		for _, domain := range rs.Domains {
			if host == domain || strings.HasSuffix(host, "."+domain) {
				return merchant
			}
		}
	}
	if _, ok := awinStoreFromHost(host); ok {
		return MerchantAwin
	}
	return MerchantUnknown
}

// awinStoreFromHost matches a host like www.kabum.com.br against the
// configured Awin storefronts.
func awinStoreFromHost(host string) (string, bool) {
	for store := range awinPrograms {
		if strings.Contains(host, store) {
			return store, true
		}
	}
	return "", false
}

// ValidateRuleTable checks the rule table is complete. Run at startup
// so a misconfigured merchant fails fast instead of silently scoring
// every conversion zero.
func ValidateRuleTable() error {
	known := []Merchant{
		MerchantAmazon, MerchantMercadoLivre, MerchantMagalu,
		MerchantShopee, MerchantAliExpress, MerchantAwin,
	}
	for _, m := range known {
		rs, ok := ruleTable[m]
		if !ok {
			return fmt.Errorf("merchant %s has no rule set", m)
		}
		if rs.Shortlink == nil || rs.AffiliateURL == nil {
			return fmt.Errorf("merchant %s has incomplete url patterns", m)
		}
		if len(rs.Domains) == 0 {
			return fmt.Errorf("merchant %s has no identifying domains", m)
		}
	}
	for store, mid := range awinPrograms {
		if mid == "" {
			return fmt.Errorf("awin store %s has no merchant id", store)
		}
	}
	return nil
}
