package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
)

// Upstream snapshot shape: data -> Catalog -> searchStore -> elements.
// Everything optional in the upstream payload is a pointer or slice so a
// single typed decode replaces the old field-by-field defensive traversal.

type CatalogSnapshot struct {
	Data struct {
		Catalog struct {
			SearchStore struct {
				Elements []CatalogElement `json:"elements"`
			} `json:"searchStore"`
		} `json:"Catalog"`
	} `json:"data"`
}

type CatalogElement struct {
	ID          string     `json:"id"`
	Namespace   string     `json:"namespace"`
	Title       string     `json:"title"`
	ProductSlug string     `json:"productSlug"`
	URLSlug     string     `json:"urlSlug"`
	KeyImages   []KeyImage `json:"keyImages"`
	CatalogNs   struct {
		Mappings []struct {
			PageSlug string `json:"pageSlug"`
			PageType string `json:"pageType"`
		} `json:"mappings"`
	} `json:"catalogNs"`
	Promotions *PromotionGroups `json:"promotions"`
}

type KeyImage struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type PromotionGroups struct {
	PromotionalOffers         []OfferGroup `json:"promotionalOffers"`
	UpcomingPromotionalOffers []OfferGroup `json:"upcomingPromotionalOffers"`
}

type OfferGroup struct {
	PromotionalOffers []Offer `json:"promotionalOffers"`
}

type Offer struct {
	StartDate       time.Time `json:"startDate"`
	EndDate         time.Time `json:"endDate"`
	DiscountSetting struct {
		DiscountType       string `json:"discountType"`
		DiscountPercentage int    `json:"discountPercentage"`
	} `json:"discountSetting"`
	Price *OfferPrice `json:"price"`
}

type OfferPrice struct {
	TotalPrice struct {
		OriginalPrice int64  `json:"originalPrice"`
		DiscountPrice int64  `json:"discountPrice"`
		CurrencyCode  string `json:"currencyCode"`
	} `json:"totalPrice"`
}

// CatalogClient fetches the free-games promotions snapshot from the
// storefront API.
type CatalogClient struct {
	endpoint string
	locale   string
	country  string
	client   *http.Client
	logger   *logrus.Logger
}

func NewCatalogClient(endpoint, locale, country string, timeout time.Duration, logger *logrus.Logger) *CatalogClient {
	return &CatalogClient{
		endpoint: endpoint,
		locale:   locale,
		country:  country,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// FetchSnapshot performs the catalog GET and returns both the raw body (for
// content hashing) and the validated parsed form. A failure here is
// pipeline-fatal for the caller.
func (c *CatalogClient) FetchSnapshot(ctx context.Context) ([]byte, *CatalogSnapshot, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid catalog endpoint: %w", err)
	}
	q := u.Query()
	q.Set("locale", c.locale)
	q.Set("country", c.country)
	q.Set("allowCountries", c.country)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "free-games-tracker/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("catalog fetch returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read catalog response: %w", err)
	}

	snapshot, err := ParseSnapshot(raw)
	if err != nil {
		return nil, nil, err
	}

	c.logger.WithField("elements", len(snapshot.Data.Catalog.SearchStore.Elements)).
		Info("Catalog snapshot fetched")
	return raw, snapshot, nil
}

// ParseSnapshot decodes and validates a raw catalog body in one step. A
// malformed root is fatal; per-element oddities are left for the reconciler
// to skip so one bad entry cannot abort a run.
func ParseSnapshot(raw []byte) (*CatalogSnapshot, error) {
	var snapshot CatalogSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse catalog response: %w", err)
	}
	if snapshot.Data.Catalog.SearchStore.Elements == nil {
		return nil, fmt.Errorf("unexpected catalog shape: missing data.Catalog.searchStore.elements")
	}
	return &snapshot, nil
}
