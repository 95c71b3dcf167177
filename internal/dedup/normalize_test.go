package dedup

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/garimpeirogeek/dealgate/internal/models"
)

func TestCanonicalURL(t *testing.T) {
	testCases := []struct {
		name     string
		rawURL   string
		expected string
	}{
		{
			name:     "strips utm parameters",
			rawURL:   "https://shop.example/item/123?utm_source=x&utm_medium=feed",
			expected: "https://shop.example/item/123",
		},
		{
			name:     "strips ref and fbclid but keeps real params",
			rawURL:   "https://shop.example/item?color=blue&ref=homepage&fbclid=abc",
			expected: "https://shop.example/item?color=blue",
		},
		{
			name:     "sorts surviving query parameters",
			rawURL:   "https://shop.example/item?b=2&a=1",
			expected: "https://shop.example/item?a=1&b=2",
		},
		{
			name:     "amazon collapses to dp path",
			rawURL:   "https://www.amazon.com.br/Echo-Dot-5a-geracao/dp/B09B8W5FW7?tag=x&ref_=nav",
			expected: "https://www.amazon.com.br/dp/B09B8W5FW7",
		},
		{
			name:     "amazon gp product path",
			rawURL:   "https://www.amazon.com.br/gp/product/B000000000?psc=1",
			expected: "https://www.amazon.com.br/dp/B000000000",
		},
		{
			name:     "lowercases host and drops fragment",
			rawURL:   "https://Shop.Example/item/9#reviews",
			expected: "https://shop.example/item/9",
		},
		{
			name:     "trailing slash removed",
			rawURL:   "https://shop.example/item/9/",
			expected: "https://shop.example/item/9",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, CanonicalURL(tc.rawURL))
		})
	}
}

func TestCanonicalURLEquivalence(t *testing.T) {
	first := CanonicalURL("https://shop.example/item/123?utm_source=x")
	second := CanonicalURL("https://shop.example/item/123?utm_source=y")
	assert.Equal(t, first, second)
}

func TestExtractASIN(t *testing.T) {
	assert.Equal(t, "B09B8W5FW7", ExtractASIN("https://www.amazon.com.br/x/dp/b09b8w5fw7"))
	assert.Equal(t, "B000000000", ExtractASIN("https://amazon.com?asin=B000000000"))
	assert.Empty(t, ExtractASIN("https://shop.example/item/1"))
}

func TestNormalizeTitle(t *testing.T) {
	testCases := []struct {
		name     string
		title    string
		expected string
	}{
		{
			name:     "lowercase and accent stripping",
			title:    "Fone de Ouvido Bluetooth JBL",
			expected: "bluetooth fone jbl ouvido",
		},
		{
			name:     "punctuation removed and tokens sorted",
			title:    "Mouse-Gamer (RGB), 16000 DPI!",
			expected: "16000 dpi gamer mouse rgb",
		},
		{
			name:     "accents fold to ascii",
			title:    "Câmera de Segurança Wi-Fi",
			expected: "camera fi seguranca wi",
		},
		{
			name:     "word order is irrelevant",
			title:    "Pro Widget",
			expected: "pro widget",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, NormalizeTitle(tc.title))
		})
	}
}

func TestNormalizeTitleOrderInsensitive(t *testing.T) {
	assert.Equal(t, NormalizeTitle("Widget Pro 2000"), NormalizeTitle("2000 PRO widget"))
}

func TestPriceBucket(t *testing.T) {
	testCases := []struct {
		price    float64
		expected string
	}{
		{10, "0-50"},
		{49.99, "0-50"},
		{50, "50-100"},
		{99.90, "50-100"},
		{150, "100-200"},
		{499, "200-500"},
		{999, "500-1000"},
		{1200, "1000-1500"},
		{2000, "1500-2500"},
		{2500, "2500+"},
		{9999, "2500+"},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, PriceBucket(decimal.NewFromFloat(tc.price)), "price %v", tc.price)
	}
}

func TestFingerprintStability(t *testing.T) {
	offer := &models.Offer{
		Title:    "Widget Pro",
		Store:    "ShopX",
		Price:    decimal.NewFromInt(100),
		Category: "gadgets",
		Brand:    "Widgetify",
		Model:    "WP-1",
	}
	same := *offer
	same.Title = "Pro Widget" // normalized title sorts tokens

	assert.Equal(t, Fingerprint(offer), Fingerprint(&same))

	other := *offer
	other.Brand = "Other"
	assert.NotEqual(t, Fingerprint(offer), Fingerprint(&other))
}
