package affiliate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifyMerchant(t *testing.T) {
	testCases := []struct {
		name     string
		url      string
		expected Merchant
	}{
		{
			name:     "amazon brazil",
			url:      "https://www.amazon.com.br/dp/B09B8W5FW7",
			expected: MerchantAmazon,
		},
		{
			name:     "amazon shortlink domain",
			url:      "https://amzn.to/3xYz12A",
			expected: MerchantAmazon,
		},
		{
			name:     "mercadolivre product subdomain",
			url:      "https://produto.mercadolivre.com.br/MLB-123456",
			expected: MerchantMercadoLivre,
		},
		{
			name:     "magalu raw storefront",
			url:      "https://www.magazineluiza.com.br/notebook/p/123",
			expected: MerchantMagalu,
		},
		{
			name:     "shopee shortlink host",
			url:      "https://s.shopee.com.br/AbC123",
			expected: MerchantShopee,
		},
		{
			name:     "aliexpress localized",
			url:      "https://pt.aliexpress.com/item/100500.html",
			expected: MerchantAliExpress,
		},
		{
			name:     "awin network store",
			url:      "https://www.kabum.com.br/produto/98765",
			expected: MerchantAwin,
		},
		{
			name:     "uncovered storefront",
			url:      "https://www.americanas.com.br/produto/123",
			expected: MerchantUnknown,
		},
		{
			name:     "not a url",
			url:      "::not-a-url::",
			expected: MerchantUnknown,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, IdentifyMerchant(tc.url))
		})
	}
}

func TestValidateRuleTable(t *testing.T) {
	require.NoError(t, ValidateRuleTable())
}

func TestRulesCoverEveryMerchant(t *testing.T) {
	for _, m := range []Merchant{
		MerchantAmazon, MerchantMercadoLivre, MerchantMagalu,
		MerchantShopee, MerchantAliExpress, MerchantAwin,
	} {
		rs, ok := Rules(m)
		require.True(t, ok, "merchant %s", m)
		assert.NotNil(t, rs.Shortlink)
		assert.NotNil(t, rs.AffiliateURL)
	}
}
