package services

import (
	"context"
	"path/filepath"
	"time"

	"free-games-tracker-service/models"

	"github.com/sirupsen/logrus"
)

// Pipeline runs one full scrape cycle: fetch, reconcile, persist, images,
// audit, statistics. The run itself is sequential; only the image batch
// fans out.
type Pipeline struct {
	catalog    *CatalogClient
	reconciler *Reconciler
	store      *StoreService
	images     *ImageService
	stats      *StatisticsService
	hashes     ContentHashStore
	logger     *logrus.Logger

	imagesDir    string
	imageWorkers int
}

func NewPipeline(
	catalog *CatalogClient,
	store *StoreService,
	images *ImageService,
	stats *StatisticsService,
	hashes ContentHashStore,
	imagesDir string,
	imageWorkers int,
	logger *logrus.Logger,
) *Pipeline {
	return &Pipeline{
		catalog:      catalog,
		reconciler:   NewReconciler(logger),
		store:        store,
		images:       images,
		stats:        stats,
		hashes:       hashes,
		logger:       logger,
		imagesDir:    imagesDir,
		imageWorkers: imageWorkers,
	}
}

// Run executes one pipeline cycle. Every outcome, success or failure, is
// recorded as a ScrapeRun row; only fetch/parse and persistence failures
// return an error. Per-game and per-image problems are logged and skipped.
func (p *Pipeline) Run(ctx context.Context) error {
	now := time.Now().UTC()
	start := time.Now()

	raw, snapshot, err := p.catalog.FetchSnapshot(ctx)
	if err != nil {
		p.recordFailure(err)
		return err
	}

	hash := SnapshotHash(raw)
	lastHash, err := p.hashes.Load()
	if err != nil {
		p.logger.WithError(err).Warn("Could not read last catalog hash, proceeding with full run")
	}
	if lastHash != "" && hash == lastHash {
		// Unchanged catalog: skip reconciliation entirely. Status refresh
		// and statistics still run because they depend on wall-clock time,
		// not on catalog content.
		p.logger.Info("Catalog unchanged since last run, skipping reconciliation")
		if err := p.store.RefreshPromotionStatuses(now); err != nil {
			p.logger.WithError(err).Warn("Status refresh failed on short-circuited run")
		}
		if err := p.stats.RefreshStatisticsCache(); err != nil {
			p.logger.WithError(err).Warn("Statistics refresh failed on short-circuited run")
		}
		return p.store.RecordScrapeRun(&models.ScrapeRun{Success: true})
	}

	cs := p.reconciler.BuildChangeSet(snapshot.Data.Catalog.SearchStore.Elements, now)

	newGames, err := p.countNewGames(cs)
	if err != nil {
		p.recordFailure(err)
		return err
	}

	// Phase 1: games. Phase 2 needs the id map this produces, so the two
	// batches are applied strictly in order, each in its own transaction.
	idMap, err := p.store.UpsertGamesBatch(cs.Games)
	if err != nil {
		p.recordFailure(err)
		return err
	}
	inserted, err := p.store.InsertPromotionsBatch(cs.Promotions, idMap)
	if err != nil {
		p.recordFailure(err)
		return err
	}

	if err := p.store.RefreshPromotionStatuses(now); err != nil {
		p.recordFailure(err)
		return err
	}

	p.syncImages(ctx, cs, idMap)

	if err := p.store.RecordScrapeRun(&models.ScrapeRun{
		GamesFound:         cs.GamesFound,
		NewGames:           newGames,
		CurrentPromotions:  cs.CurrentPromotions,
		UpcomingPromotions: cs.UpcomingPromotions,
		Success:            true,
	}); err != nil {
		return err
	}

	if err := p.stats.RefreshStatisticsCache(); err != nil {
		p.logger.WithError(err).Warn("Statistics refresh failed")
	}

	// Persist the hash only after the run committed, so a failed run is
	// retried with the same snapshot next cycle.
	if err := p.hashes.Save(hash); err != nil {
		p.logger.WithError(err).Warn("Could not persist catalog hash")
	}

	p.logger.WithFields(logrus.Fields{
		"games_found":     cs.GamesFound,
		"new_games":       newGames,
		"promos_inserted": inserted,
		"skipped":         cs.SkippedElements,
		"duration":        time.Since(start).Round(time.Millisecond).String(),
	}).Info("Pipeline run complete")
	return nil
}

func (p *Pipeline) countNewGames(cs *ChangeSet) (int, error) {
	links := make([]string, 0, len(cs.Games))
	for i := range cs.Games {
		links = append(links, cs.Games[i].Link)
	}
	known, err := p.store.KnownLinks(links)
	if err != nil {
		return 0, err
	}
	newGames := 0
	for _, link := range links {
		if !known[link] {
			newGames++
		}
	}
	return newGames, nil
}

// syncImages downloads images for every game of this run that lacks a valid
// cached file, then records image references only for files confirmed valid
// after the batch. Image failures never fail the run.
func (p *Pipeline) syncImages(ctx context.Context, cs *ChangeSet, idMap map[GameKey]uint) {
	var tasks []ImageTask
	for i := range cs.Games {
		g := &cs.Games[i]
		if g.ImageURL == "" {
			p.logger.WithField("game", DescribeKey(g.Key())).Debug("No catalog image for game")
			continue
		}
		dest := filepath.Join(p.imagesDir, ImageFilename(g.ExternalID))
		if p.images.HasValidImage(dest) {
			continue
		}
		tasks = append(tasks, ImageTask{URL: g.ImageURL, Dest: dest, Label: g.Name})
	}

	if len(tasks) > 0 {
		p.images.FetchBatch(ctx, tasks, p.imageWorkers)
	}

	// Record references for whatever is actually valid on disk now,
	// including files that already existed but were never recorded.
	for i := range cs.Games {
		g := &cs.Games[i]
		gameID, ok := idMap[g.Key()]
		if !ok {
			continue
		}
		filename := ImageFilename(g.ExternalID)
		if !p.images.HasValidImage(filepath.Join(p.imagesDir, filename)) {
			continue
		}
		if err := p.store.SetGameImage(gameID, filename); err != nil {
			p.logger.WithField("game", g.Name).WithError(err).Warn("Could not record image reference")
		}
	}

	if missing, err := p.store.GamesWithoutImage(models.PlatformPC); err == nil && len(missing) > 0 {
		p.logger.WithField("count", len(missing)).Info("Games still without a valid image")
	}
}

func (p *Pipeline) recordFailure(cause error) {
	p.logger.WithError(cause).Error("Pipeline run failed")
	run := &models.ScrapeRun{
		Success:      false,
		ErrorMessage: cause.Error(),
	}
	if err := p.store.RecordScrapeRun(run); err != nil {
		p.logger.WithError(err).Error("Could not record failed scrape run")
	}
}
