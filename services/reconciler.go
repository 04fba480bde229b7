package services

import (
	"fmt"
	"strings"
	"time"

	"free-games-tracker-service/models"

	"github.com/sirupsen/logrus"
)

const storefrontBase = "https://store.epicgames.com/en-US/p/"

// Key-image preference, widest first. The wide hero art is what the website
// renders; anything else is a fallback.
var keyImagePreference = []string{
	"OfferImageWide",
	"DieselStoreFrontWide",
	"OfferImageTall",
	"Thumbnail",
}

// GameKey identifies a game within one reconciliation run.
type GameKey struct {
	ExternalID string
	Platform   string
}

// GameUpsert is one entry of the games change-set handed to the store.
// Pointer fields mean "no value captured this run"; the store keeps whatever
// it already has for those.
type GameUpsert struct {
	ExternalID string
	Platform   string
	Name       string
	Link       string
	ImageURL   string

	Rating             *float64
	OriginalPriceCents *int64
	CurrencyCode       *string

	SandboxID   *string
	MappingSlug *string
	ProductSlug *string
	URLSlug     *string
}

func (g *GameUpsert) Key() GameKey {
	return GameKey{ExternalID: g.ExternalID, Platform: g.Platform}
}

// PromotionInsert is one entry of the promotions change-set. It references
// the game by key; the store resolves keys to row ids via the id map from
// the games phase.
type PromotionInsert struct {
	GameKey   GameKey
	StartDate time.Time
	EndDate   time.Time
	Status    string
	Platform  string
}

// ChangeSet is the reconciler output: games to upsert, promotions to insert,
// and the counts recorded in the scrape audit row.
type ChangeSet struct {
	Games      []GameUpsert
	Promotions []PromotionInsert

	GamesFound         int
	CurrentPromotions  int
	UpcomingPromotions int
	SkippedElements    int
}

// ImageURLFor returns the catalog image URL captured for a game key, or "".
func (cs *ChangeSet) ImageURLFor(key GameKey) string {
	for i := range cs.Games {
		if cs.Games[i].Key() == key {
			return cs.Games[i].ImageURL
		}
	}
	return ""
}

// Reconciler turns a catalog snapshot into store change-sets.
type Reconciler struct {
	logger *logrus.Logger
}

func NewReconciler(logger *logrus.Logger) *Reconciler {
	return &Reconciler{logger: logger}
}

// BuildChangeSet runs the two-phase extraction over the snapshot elements.
//
// Phase ordering is a correctness invariant, not an optimization: the
// upstream reports real prices only while an offer is still upcoming and
// zeroes them once it goes live, so the upcoming pass must write its game
// records before the current pass so the captured price is the one that
// sticks under the store's first-capture-wins merge.
func (r *Reconciler) BuildChangeSet(elements []CatalogElement, now time.Time) *ChangeSet {
	b := &changeSetBuilder{
		reconciler: r,
		now:        now,
		games:      make(map[GameKey]*GameUpsert),
		promoSeen:  make(map[promoKey]bool),
		cs:         &ChangeSet{},
	}

	// Phase 1: upcoming offers carry authoritative prices.
	for i := range elements {
		b.collect(&elements[i], phaseUpcoming)
	}
	// Phase 2: current offers; zero prices are suppressed, never stored.
	for i := range elements {
		b.collect(&elements[i], phaseCurrent)
	}

	for _, key := range b.order {
		b.cs.Games = append(b.cs.Games, *b.games[key])
	}
	b.cs.GamesFound = len(b.cs.Games)
	return b.cs
}

type phase int

const (
	phaseUpcoming phase = iota
	phaseCurrent
)

type promoKey struct {
	game  GameKey
	start int64
	end   int64
}

type changeSetBuilder struct {
	reconciler *Reconciler
	now        time.Time
	games      map[GameKey]*GameUpsert
	order      []GameKey
	promoSeen  map[promoKey]bool
	cs         *ChangeSet
}

func (b *changeSetBuilder) collect(el *CatalogElement, p phase) {
	if el.Promotions == nil {
		return
	}

	groups := el.Promotions.PromotionalOffers
	if p == phaseUpcoming {
		groups = el.Promotions.UpcomingPromotionalOffers
	}

	for _, group := range groups {
		for i := range group.PromotionalOffers {
			b.collectOffer(el, &group.PromotionalOffers[i], p)
		}
	}
}

func (b *changeSetBuilder) collectOffer(el *CatalogElement, offer *Offer, p phase) {
	log := b.reconciler.logger.WithFields(logrus.Fields{
		"title": el.Title,
		"id":    el.ID,
	})

	// Only zero-percent discounts are "free"; paid discounts are not tracked.
	if offer.DiscountSetting.DiscountPercentage != 0 {
		return
	}

	if el.ID == "" || el.Title == "" || offer.StartDate.IsZero() || offer.EndDate.IsZero() {
		log.Warn("Skipping offer with missing required fields")
		b.cs.SkippedElements++
		return
	}

	status := ClassifyPromotion(b.now, offer.StartDate, offer.EndDate)
	switch p {
	case phaseUpcoming:
		if status == models.StatusExpired {
			return
		}
	case phaseCurrent:
		if status != models.StatusCurrent {
			return
		}
	}

	slug := canonicalSlug(el)
	if slug == "" {
		log.Warn("Skipping game: no product, page, or url slug resolves")
		b.cs.SkippedElements++
		return
	}

	upsert := b.gameUpsert(el, slug)

	// Price capture only happens in the upcoming phase. The current phase
	// reports zero prices by construction; writing them would clobber a
	// previously captured real price.
	if p == phaseUpcoming && offer.Price != nil && offer.Price.TotalPrice.OriginalPrice > 0 {
		if upsert.OriginalPriceCents == nil {
			price := offer.Price.TotalPrice.OriginalPrice
			currency := offer.Price.TotalPrice.CurrencyCode
			upsert.OriginalPriceCents = &price
			upsert.CurrencyCode = &currency
		}
	}

	pk := promoKey{game: upsert.Key(), start: offer.StartDate.Unix(), end: offer.EndDate.Unix()}
	if b.promoSeen[pk] {
		return
	}
	b.promoSeen[pk] = true

	b.cs.Promotions = append(b.cs.Promotions, PromotionInsert{
		GameKey:   upsert.Key(),
		StartDate: offer.StartDate.UTC(),
		EndDate:   offer.EndDate.UTC(),
		Status:    status,
		Platform:  models.PlatformPC,
	})
	switch status {
	case models.StatusCurrent:
		b.cs.CurrentPromotions++
	case models.StatusUpcoming:
		b.cs.UpcomingPromotions++
	}
}

func (b *changeSetBuilder) gameUpsert(el *CatalogElement, slug string) *GameUpsert {
	key := GameKey{ExternalID: el.ID, Platform: models.PlatformPC}
	if existing, ok := b.games[key]; ok {
		// Same game seen again (typically upcoming phase first, then
		// current). Keep first-captured values, fill in gaps only.
		if existing.ImageURL == "" {
			existing.ImageURL = pickKeyImage(el.KeyImages)
		}
		return existing
	}

	upsert := &GameUpsert{
		ExternalID: el.ID,
		Platform:   models.PlatformPC,
		Name:       el.Title,
		Link:       storefrontBase + slug,
		ImageURL:   pickKeyImage(el.KeyImages),
	}
	if el.Namespace != "" {
		ns := el.Namespace
		upsert.SandboxID = &ns
	}
	if el.ProductSlug != "" {
		ps := el.ProductSlug
		upsert.ProductSlug = &ps
	}
	if el.URLSlug != "" {
		us := el.URLSlug
		upsert.URLSlug = &us
	}
	if ms := firstPageSlug(el); ms != "" {
		upsert.MappingSlug = &ms
	}

	b.games[key] = upsert
	b.order = append(b.order, key)
	return upsert
}

// canonicalSlug resolves the storefront link slug with the preference order
// primary product slug -> catalog-namespace page slug -> fallback url slug.
func canonicalSlug(el *CatalogElement) string {
	if s := trimSlug(el.ProductSlug); s != "" {
		return s
	}
	if s := firstPageSlug(el); s != "" {
		return s
	}
	return trimSlug(el.URLSlug)
}

func firstPageSlug(el *CatalogElement) string {
	for _, m := range el.CatalogNs.Mappings {
		if m.PageSlug != "" {
			return m.PageSlug
		}
	}
	return ""
}

// trimSlug drops trailing route segments like "my-game/home" and placeholder
// values the upstream occasionally reports.
func trimSlug(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || s == "[]" {
		return ""
	}
	if idx := strings.Index(s, "/"); idx >= 0 {
		s = s[:idx]
	}
	return s
}

func pickKeyImage(images []KeyImage) string {
	for _, want := range keyImagePreference {
		for _, img := range images {
			if img.Type == want && img.URL != "" {
				return img.URL
			}
		}
	}
	for _, img := range images {
		if img.URL != "" {
			return img.URL
		}
	}
	return ""
}

// DescribeKey is a compact human-readable label for logs and task reporting.
func DescribeKey(key GameKey) string {
	return fmt.Sprintf("%s/%s", key.Platform, key.ExternalID)
}
