package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adscout/engine/pkg/types"
)

func TestDeveloperDomain_GooglePlayMetaTag(t *testing.T) {
	body := `<html><head>
		<meta name="appstore:developer_url" content="https://www.example.com/about">
	</head><body></body></html>`

	domain, err := DeveloperDomain(body, types.StoreGooglePlay)
	require.NoError(t, err)
	assert.Equal(t, "example.com", domain)
}

func TestDeveloperDomain_GooglePlayRedirectWrappedAnchor(t *testing.T) {
	body := `<html><body>
		<a href="https://www.google.com/url?q=https://studio.example.io&sa=D">Visit website</a>
	</body></html>`

	domain, err := DeveloperDomain(body, types.StoreGooglePlay)
	require.NoError(t, err)
	assert.Equal(t, "studio.example.io", domain)
}

func TestDeveloperDomain_GooglePlayDevAnchorSkippedAsStoreFront(t *testing.T) {
	// The developer-page anchor points back into the store; the labeled
	// website link further down must win instead
	body := `<html><body>
		<a href="https://play.google.com/store/apps/dev?id=12345">Acme Games</a>
		<a href="https://acmegames.com">Visit website</a>
	</body></html>`

	domain, err := DeveloperDomain(body, types.StoreGooglePlay)
	require.NoError(t, err)
	assert.Equal(t, "acmegames.com", domain)
}

func TestDeveloperDomain_AppStoreExternalIconAnchor(t *testing.T) {
	body := `<html><body>
		<a class="link icon-after icon-external" href="https://www.devhouse.net/games">Developer Website</a>
	</body></html>`

	domain, err := DeveloperDomain(body, types.StoreAppStore)
	require.NoError(t, err)
	assert.Equal(t, "devhouse.net", domain)
}

func TestDeveloperDomain_AppStoreIgnoresPartialClassMatch(t *testing.T) {
	body := `<html><body>
		<a class="icon-after" href="https://irrelevant.example.com">Something</a>
	</body></html>`

	_, err := DeveloperDomain(body, types.StoreAppStore)
	assert.ErrorIs(t, err, ErrDomainNotFound)
}

func TestDeveloperDomain_AmazonVisitStoreAnchor(t *testing.T) {
	body := `<html><body>
		<a href="https://gamestudio.example.org/store">Visit the GameStudio Store</a>
	</body></html>`

	domain, err := DeveloperDomain(body, types.StoreAmazon)
	require.NoError(t, err)
	assert.Equal(t, "gamestudio.example.org", domain)
}

func TestDeveloperDomain_RokuMoreByAnchor(t *testing.T) {
	body := `<html><body>
		<a href="https://streamco.tv/channels">More by StreamCo</a>
	</body></html>`

	domain, err := DeveloperDomain(body, types.StoreRoku)
	require.NoError(t, err)
	assert.Equal(t, "streamco.tv", domain)
}

func TestDeveloperDomain_SamsungDefinitionBlock(t *testing.T) {
	body := `<html><body><dl>
		<dt>Developer</dt>
		<dd>apps.vendor.co.kr</dd>
	</dl></body></html>`

	domain, err := DeveloperDomain(body, types.StoreSamsung)
	require.NoError(t, err)
	assert.Equal(t, "apps.vendor.co.kr", domain)
}

func TestDeveloperDomain_SamsungDefinitionBlockWithCompanyName(t *testing.T) {
	// A company name is not a hostname; extraction must fail rather than
	// fabricate a domain
	body := `<html><body><dl>
		<dt>Developer</dt>
		<dd>Vendor Electronics Co., Ltd.</dd>
	</dl></body></html>`

	_, err := DeveloperDomain(body, types.StoreSamsung)
	assert.ErrorIs(t, err, ErrDomainNotFound)
}

func TestDeveloperDomain_HeuristicOrder(t *testing.T) {
	// The meta tag outranks any anchor for stores that honor it
	body := `<html><head>
		<meta name="appstore:developer_url" content="https://meta-winner.com">
	</head><body>
		<a href="https://anchor-loser.com">More from Developer</a>
	</body></html>`

	domain, err := DeveloperDomain(body, types.StoreSamsung)
	require.NoError(t, err)
	assert.Equal(t, "meta-winner.com", domain)
}

func TestDeveloperDomain_RejectsNonWebSchemes(t *testing.T) {
	body := `<html><head>
		<meta name="appstore:developer_url" content="mailto:dev@example.com">
	</head><body></body></html>`

	_, err := DeveloperDomain(body, types.StoreGooglePlay)
	assert.ErrorIs(t, err, ErrDomainNotFound)
}

func TestDeveloperDomain_UnsupportedKind(t *testing.T) {
	_, err := DeveloperDomain("<html></html>", types.StoreUnknown)
	assert.ErrorIs(t, err, ErrDomainNotFound)
}

func TestDeveloperDomain_EmptyBody(t *testing.T) {
	_, err := DeveloperDomain("", types.StoreGooglePlay)
	assert.ErrorIs(t, err, ErrDomainNotFound)
}

func TestDeveloperDomain_MalformedHTMLIsTolerated(t *testing.T) {
	// html.Parse repairs broken markup; the anchor must still be found
	body := `<div><a href="https://resilient.example.com">Visit website</a><p>unclosed`

	domain, err := DeveloperDomain(body, types.StoreGooglePlay)
	require.NoError(t, err)
	assert.Equal(t, "resilient.example.com", domain)
}
