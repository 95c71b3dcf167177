package affiliate

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/garimpeirogeek/dealgate/internal/dedup"
	"github.com/garimpeirogeek/dealgate/internal/logger"
	"github.com/garimpeirogeek/dealgate/internal/models"
)

// Config carries the program credentials used to build affiliate links.
type Config struct {
	AmazonTag       string `yaml:"amazon_tag"`
	MercadoLivreTag string `yaml:"mercadolivre_tag"`
	MagaluStore     string `yaml:"magalu_store"`
	AwinAffiliateID string `yaml:"awin_affiliate_id"`
}

// Conversion is the outcome of converting one product URL.
type Conversion struct {
	Merchant     Merchant `json:"merchant"`
	AffiliateURL string   `json:"affiliate_url"`
	CacheHit     bool     `json:"cache_hit"`
}

// BuilderFunc builds an affiliate URL for one merchant. Shortlink
// merchants whose links come from an external panel can be plugged in
// here instead of the deterministic builders.
type BuilderFunc func(ctx context.Context, rawURL string) (string, error)

// Converter turns raw product URLs into affiliate links. Conversions
// are deterministic per merchant and cached by canonical URL, so
// converting the same product twice yields the same link.
type Converter struct {
	cfg      Config
	cache    *Cache
	builders map[Merchant]BuilderFunc
	logger   logger.Logger
}

// NewConverter validates the rule table and credentials up front.
func NewConverter(cfg Config, cache *Cache, log logger.Logger) (*Converter, error) {
	if err := ValidateRuleTable(); err != nil {
		return nil, err
	}
	if cfg.AmazonTag == "" {
		return nil, fmt.Errorf("amazon associate tag is required")
	}
	if cfg.MercadoLivreTag == "" {
		return nil, fmt.Errorf("mercadolivre label is required")
	}
	if cfg.MagaluStore == "" {
		return nil, fmt.Errorf("magalu vitrine store is required")
	}
	if cfg.AwinAffiliateID == "" {
		return nil, fmt.Errorf("awin affiliate id is required")
	}

	c := &Converter{cfg: cfg, cache: cache, logger: log}
	c.builders = map[Merchant]BuilderFunc{
		MerchantAmazon:       c.buildAmazon,
		MerchantMercadoLivre: c.buildMercadoLivre,
		MerchantMagalu:       c.buildMagalu,
		MerchantAwin:         c.buildAwin,
	}
	return c, nil
}

// RegisterBuilder overrides the builder for a merchant. Used to plug in
// panel-backed shortlink generators for Shopee and AliExpress.
func (c *Converter) RegisterBuilder(m Merchant, build BuilderFunc) {
	c.builders[m] = build
}

// Convert builds the affiliate link for rawURL. Already-converted URLs
// pass through unchanged, making Convert idempotent.
func (c *Converter) Convert(ctx context.Context, rawURL string) (Conversion, error) {
	merchant := IdentifyMerchant(rawURL)
	if merchant == MerchantUnknown {
		return Conversion{}, fmt.Errorf("%w: %s", models.ErrUnknownMerchant, rawURL)
	}
	rules, _ := Rules(merchant)

	if rules.Shortlink.MatchString(rawURL) || rules.AffiliateURL.MatchString(rawURL) {
		return Conversion{Merchant: merchant, AffiliateURL: rawURL}, nil
	}

	canonical := dedup.CanonicalURL(rawURL)
	if entry, ok := c.cache.Get(ctx, merchant, canonical); ok {
		return Conversion{Merchant: merchant, AffiliateURL: entry.AffiliateURL, CacheHit: true}, nil
	}

	build, ok := c.builders[merchant]
	if !ok {
		// Shopee and AliExpress shortlinks are minted by the merchant
		// panel. Without a registered builder or a cached shortlink the
		// raw URL goes through and the validator flags it.
		c.logger.Warn("no builder for merchant, passing url through",
			logger.String("merchant", string(merchant)),
		)
		return Conversion{Merchant: merchant, AffiliateURL: rawURL}, nil
	}

	affiliateURL, err := build(ctx, rawURL)
	if err != nil {
		return Conversion{}, fmt.Errorf("build %s link: %w", merchant, err)
	}

	c.cache.Set(ctx, merchant, canonical, affiliateURL)
	c.logger.Debug("converted product url",
		logger.String("merchant", string(merchant)),
		logger.String("affiliate_url", affiliateURL),
	)
	return Conversion{Merchant: merchant, AffiliateURL: affiliateURL}, nil
}

// buildAmazon collapses the product URL to /dp/{ASIN} and appends the
// associate tag. URLs with no recognizable ASIN get the tag appended to
// the original URL.
func (c *Converter) buildAmazon(_ context.Context, rawURL string) (string, error) {
	if asin := dedup.ExtractASIN(rawURL); asin != "" {
		return fmt.Sprintf("https://www.amazon.com.br/dp/%s?tag=%s", asin, c.cfg.AmazonTag), nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	query := u.Query()
	query.Set("tag", c.cfg.AmazonTag)
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// buildMercadoLivre routes through the social profile URL, which
// attributes the sale via the matt_word label.
func (c *Converter) buildMercadoLivre(_ context.Context, rawURL string) (string, error) {
	return fmt.Sprintf(
		"https://www.mercadolivre.com.br/social/%s?matt_word=%s&ref=%s",
		c.cfg.MercadoLivreTag, c.cfg.MercadoLivreTag, url.QueryEscape(rawURL),
	), nil
}

// buildMagalu rewrites the product URL onto the Magazine Você vitrine.
func (c *Converter) buildMagalu(_ context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	u.Scheme = "https"
	u.Host = "www.magazinevoce.com.br"
	u.Path = "/" + c.cfg.MagaluStore + u.Path
	return u.String(), nil
}

// buildAwin wraps the product URL in an awin1.com cread.php deeplink
// for the storefront's program.
func (c *Converter) buildAwin(_ context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	store, ok := awinStoreFromHost(strings.ToLower(u.Host))
	if !ok {
		return "", fmt.Errorf("no awin program for host %s", u.Host)
	}
	mid := awinPrograms[store]
	return fmt.Sprintf(
		"https://www.awin1.com/cread.php?awinmid=%s&awinaffid=%s&ued=%s",
		mid, c.cfg.AwinAffiliateID, url.QueryEscape(rawURL),
	), nil
}
