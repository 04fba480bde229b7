package services

import (
	"io"
	"testing"
	"time"

	"free-games-tracker-service/models"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func freeOffer(start, end time.Time, priceCents int64) Offer {
	var offer Offer
	offer.StartDate = start
	offer.EndDate = end
	offer.DiscountSetting.DiscountPercentage = 0
	if priceCents > 0 {
		price := &OfferPrice{}
		price.TotalPrice.OriginalPrice = priceCents
		price.TotalPrice.CurrencyCode = "USD"
		offer.Price = price
	}
	return offer
}

func element(id, title, productSlug string) CatalogElement {
	return CatalogElement{
		ID:          id,
		Title:       title,
		ProductSlug: productSlug,
		Promotions:  &PromotionGroups{},
	}
}

func withUpcoming(el CatalogElement, offers ...Offer) CatalogElement {
	el.Promotions.UpcomingPromotionalOffers = append(el.Promotions.UpcomingPromotionalOffers, OfferGroup{PromotionalOffers: offers})
	return el
}

func withCurrent(el CatalogElement, offers ...Offer) CatalogElement {
	el.Promotions.PromotionalOffers = append(el.Promotions.PromotionalOffers, OfferGroup{PromotionalOffers: offers})
	return el
}

func TestBuildChangeSetTwoPhasePriceCapture(t *testing.T) {
	now := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)
	r := NewReconciler(quietLogger())

	// The same game appears in both phases: upcoming offer with a real
	// price, current offer with a zero (suppressed) price.
	el := element("abc123", "Citadel of Echoes", "citadel-of-echoes")
	el = withUpcoming(el, freeOffer(now.Add(7*24*time.Hour), now.Add(14*24*time.Hour), 2999))
	el = withCurrent(el, freeOffer(now.Add(-24*time.Hour), now.Add(6*24*time.Hour), 0))

	cs := r.BuildChangeSet([]CatalogElement{el}, now)

	if cs.GamesFound != 1 {
		t.Fatalf("GamesFound = %d, want 1", cs.GamesFound)
	}
	game := cs.Games[0]
	if game.OriginalPriceCents == nil || *game.OriginalPriceCents != 2999 {
		t.Fatalf("price = %v, want 2999 captured from the upcoming phase", game.OriginalPriceCents)
	}
	if game.CurrencyCode == nil || *game.CurrencyCode != "USD" {
		t.Fatalf("currency = %v, want USD", game.CurrencyCode)
	}
	if len(cs.Promotions) != 2 {
		t.Fatalf("promotions = %d, want 2", len(cs.Promotions))
	}
	if cs.UpcomingPromotions != 1 || cs.CurrentPromotions != 1 {
		t.Fatalf("counts = %d upcoming / %d current, want 1/1", cs.UpcomingPromotions, cs.CurrentPromotions)
	}
}

func TestBuildChangeSetCurrentPhaseZeroPriceSuppressed(t *testing.T) {
	now := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)
	r := NewReconciler(quietLogger())

	// Current phase reports a zero original price; must come through as nil.
	el := element("zero1", "Gratis Game", "gratis-game")
	el = withCurrent(el, freeOffer(now.Add(-time.Hour), now.Add(time.Hour), 0))

	cs := r.BuildChangeSet([]CatalogElement{el}, now)
	if len(cs.Games) != 1 {
		t.Fatalf("games = %d, want 1", len(cs.Games))
	}
	if cs.Games[0].OriginalPriceCents != nil {
		t.Fatalf("price = %v, want nil (zero suppressed)", *cs.Games[0].OriginalPriceCents)
	}
}

func TestBuildChangeSetSlugPreference(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*CatalogElement)
		wantLink string
	}{
		{
			name:     "product slug wins",
			mutate:   func(el *CatalogElement) {},
			wantLink: storefrontBase + "primary-slug",
		},
		{
			name: "product slug trailing route trimmed",
			mutate: func(el *CatalogElement) {
				el.ProductSlug = "primary-slug/home"
			},
			wantLink: storefrontBase + "primary-slug",
		},
		{
			name: "page slug when product slug empty",
			mutate: func(el *CatalogElement) {
				el.ProductSlug = ""
			},
			wantLink: storefrontBase + "page-slug",
		},
		{
			name: "url slug as last resort",
			mutate: func(el *CatalogElement) {
				el.ProductSlug = ""
				el.CatalogNs.Mappings = nil
			},
			wantLink: storefrontBase + "url-slug",
		},
	}

	now := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)
	r := NewReconciler(quietLogger())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			el := element("slugtest", "Slug Test", "primary-slug")
			el.URLSlug = "url-slug"
			el.CatalogNs.Mappings = []struct {
				PageSlug string `json:"pageSlug"`
				PageType string `json:"pageType"`
			}{{PageSlug: "page-slug", PageType: "productHome"}}
			el = withCurrent(el, freeOffer(now.Add(-time.Hour), now.Add(time.Hour), 0))
			tt.mutate(&el)

			cs := r.BuildChangeSet([]CatalogElement{el}, now)
			if len(cs.Games) != 1 {
				t.Fatalf("games = %d, want 1", len(cs.Games))
			}
			if cs.Games[0].Link != tt.wantLink {
				t.Fatalf("link = %q, want %q", cs.Games[0].Link, tt.wantLink)
			}
		})
	}
}

func TestBuildChangeSetSkipsGameWithoutSlug(t *testing.T) {
	now := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)
	r := NewReconciler(quietLogger())

	el := element("noslug", "Unlinkable", "")
	el = withCurrent(el, freeOffer(now.Add(-time.Hour), now.Add(time.Hour), 0))

	cs := r.BuildChangeSet([]CatalogElement{el}, now)
	if len(cs.Games) != 0 {
		t.Fatalf("games = %d, want 0 (no slug resolves)", len(cs.Games))
	}
	if cs.SkippedElements != 1 {
		t.Fatalf("skipped = %d, want 1", cs.SkippedElements)
	}
}

func TestBuildChangeSetDeduplicatesPromotions(t *testing.T) {
	now := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)
	r := NewReconciler(quietLogger())

	start, end := now.Add(-time.Hour), now.Add(time.Hour)
	el := element("dup1", "Twice Listed", "twice-listed")
	el = withCurrent(el, freeOffer(start, end, 0), freeOffer(start, end, 0))

	cs := r.BuildChangeSet([]CatalogElement{el}, now)
	if len(cs.Promotions) != 1 {
		t.Fatalf("promotions = %d, want 1 after dedup", len(cs.Promotions))
	}
}

func TestBuildChangeSetIgnoresPaidDiscounts(t *testing.T) {
	now := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)
	r := NewReconciler(quietLogger())

	offer := freeOffer(now.Add(-time.Hour), now.Add(time.Hour), 0)
	offer.DiscountSetting.DiscountPercentage = 50
	el := element("paid1", "Half Off", "half-off")
	el = withCurrent(el, offer)

	cs := r.BuildChangeSet([]CatalogElement{el}, now)
	if len(cs.Games) != 0 || len(cs.Promotions) != 0 {
		t.Fatalf("got %d games / %d promotions, want none for a paid discount", len(cs.Games), len(cs.Promotions))
	}
}

func TestBuildChangeSetSkipsMalformedOffer(t *testing.T) {
	now := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)
	r := NewReconciler(quietLogger())

	bad := element("bad1", "No Dates", "no-dates")
	bad = withCurrent(bad, Offer{}) // zero dates, zero discount
	good := element("good1", "Fine Game", "fine-game")
	good = withCurrent(good, freeOffer(now.Add(-time.Hour), now.Add(time.Hour), 0))

	cs := r.BuildChangeSet([]CatalogElement{bad, good}, now)
	if len(cs.Games) != 1 || cs.Games[0].ExternalID != "good1" {
		t.Fatalf("expected only the well-formed game to survive, got %+v", cs.Games)
	}
	if cs.SkippedElements != 1 {
		t.Fatalf("skipped = %d, want 1", cs.SkippedElements)
	}
}

func TestBuildChangeSetKeyImagePreference(t *testing.T) {
	now := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)
	r := NewReconciler(quietLogger())

	el := element("img1", "Pretty Game", "pretty-game")
	el.KeyImages = []KeyImage{
		{Type: "Thumbnail", URL: "https://cdn.example.com/thumb.jpg"},
		{Type: "OfferImageWide", URL: "https://cdn.example.com/wide.jpg"},
	}
	el = withCurrent(el, freeOffer(now.Add(-time.Hour), now.Add(time.Hour), 0))

	cs := r.BuildChangeSet([]CatalogElement{el}, now)
	if got := cs.ImageURLFor(GameKey{ExternalID: "img1", Platform: models.PlatformPC}); got != "https://cdn.example.com/wide.jpg" {
		t.Fatalf("image URL = %q, want the wide offer image", got)
	}
}
