// Package coordinator runs the worker pool: a polling loop that claims
// waiting searches in batches, executes them through the scraping
// collaborator under a bounded number of slots, and writes terminal
// results back. All coordination with other processes goes through the
// database; the coordinator holds no cross-process state.
package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pedrolm/mapscout/internal/metrics"
	"github.com/pedrolm/mapscout/internal/scraper"
	"github.com/pedrolm/mapscout/internal/store"
)

// Config controls the claim loop and the pool bounds.
type Config struct {
	// BatchSize caps how many jobs one claim call may take.
	BatchSize int
	// MaxConcurrentTasks bounds simultaneously executing scrapes.
	MaxConcurrentTasks int
	// CheckInterval is the pause between claim attempts.
	CheckInterval time.Duration
	// UpdateInterval is the pause between aggregate-status refreshes.
	UpdateInterval time.Duration
	// StaleProcessingAfter, when positive, requeues processing jobs
	// older than this cutoff during the refresh cycle. Zero disables
	// the sweep and stuck jobs stay stuck until re-submitted.
	StaleProcessingAfter time.Duration
}

// Coordinator owns the execution slots and the two periodic loops.
type Coordinator struct {
	dequeuer  store.Dequeuer
	searches  store.SearchStore
	campaigns store.CampaignStore
	scraper   scraper.Scraper
	cfg       Config
	logger    *zap.Logger

	slots chan struct{}
	wg    sync.WaitGroup
}

// New builds a Coordinator.
func New(
	dequeuer store.Dequeuer,
	searches store.SearchStore,
	campaigns store.CampaignStore,
	scr scraper.Scraper,
	cfg Config,
	logger *zap.Logger,
) *Coordinator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = 1
	}
	return &Coordinator{
		dequeuer:  dequeuer,
		searches:  searches,
		campaigns: campaigns,
		scraper:   scr,
		cfg:       cfg,
		logger:    logger,
		slots:     make(chan struct{}, cfg.MaxConcurrentTasks),
	}
}

// Run blocks until the context finishes, then waits for in-flight slots.
func (c *Coordinator) Run(ctx context.Context) {
	c.logger.Info("coordinator started",
		zap.Int("batch_size", c.cfg.BatchSize),
		zap.Int("max_concurrent_tasks", c.cfg.MaxConcurrentTasks),
		zap.Duration("check_interval", c.cfg.CheckInterval),
	)

	checkTicker := time.NewTicker(c.cfg.CheckInterval)
	defer checkTicker.Stop()
	updateTicker := time.NewTicker(c.cfg.UpdateInterval)
	defer updateTicker.Stop()

	// One immediate cycle so a freshly started worker drains a backlog
	// without waiting a full interval.
	c.claimCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("coordinator stopping, waiting for in-flight jobs")
			c.wg.Wait()
			c.logger.Info("coordinator stopped")
			return
		case <-checkTicker.C:
			c.claimCycle(ctx)
		case <-updateTicker.C:
			c.refreshCycle(ctx)
		}
	}
}

// claimCycle claims up to min(batch, free slots) jobs and hands each to
// a slot goroutine. When every slot is busy no claim call is issued at
// all, so the database queue itself provides the back-pressure buffer.
func (c *Coordinator) claimCycle(ctx context.Context) {
	free := cap(c.slots) - len(c.slots)
	if free == 0 {
		c.logger.Debug("all worker slots busy, skipping claim")
		return
	}
	limit := c.cfg.BatchSize
	if free < limit {
		limit = free
	}

	claimed, err := c.dequeuer.ClaimNext(ctx, limit)
	if err != nil {
		// Infrastructure failure: log and let the next cycle retry.
		c.logger.Error("claim cycle failed", zap.Error(err))
		return
	}
	if len(claimed) == 0 {
		return
	}
	metrics.ObserveClaims(len(claimed))
	c.logger.Info("claimed jobs", zap.Int("count", len(claimed)))

	for _, search := range claimed {
		select {
		case c.slots <- struct{}{}:
		case <-ctx.Done():
			return
		}
		metrics.SetBusySlots(len(c.slots))
		c.wg.Add(1)
		go func(job store.Search) {
			defer c.wg.Done()
			defer func() {
				<-c.slots
				metrics.SetBusySlots(len(c.slots))
			}()
			c.execute(ctx, job)
		}(search)
	}
}

// execute runs one claimed job to a terminal state.
func (c *Coordinator) execute(ctx context.Context, job store.Search) {
	start := time.Now()
	logger := c.logger.With(
		zap.Int64("busca_id", job.ID),
		zap.String("region", job.Region),
		zap.String("business_type", job.BusinessType),
	)
	logger.Info("job started")

	leads, err := c.scraper.Scrape(ctx, scraper.Query{
		Region:       job.Region,
		BusinessType: job.BusinessType,
		Keywords:     job.Keywords,
		MaxResults:   job.MaxResults,
	})
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown mid-scrape: leave the row in processing for the
			// stale sweep or a re-submission rather than racing a write
			// against a dying process.
			logger.Warn("job interrupted by shutdown", zap.Error(err))
			return
		}
		if markErr := c.searches.MarkError(ctx, job.ID, err.Error()); markErr != nil {
			if errors.Is(markErr, store.ErrStaleClaim) {
				// The sweep requeued this job and another worker already
				// finalized it. Its state stands; this failure is dropped.
				logger.Warn("job finalized elsewhere, dropping late failure", zap.Error(err))
				return
			}
			logger.Error("mark error failed", zap.Error(markErr))
			return
		}
		metrics.ObserveJobFinished(string(store.SearchError))
		logger.Warn("job failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return
	}

	records := make([]store.Lead, 0, len(leads))
	for _, lead := range leads {
		records = append(records, store.Lead{
			SearchID:    job.ID,
			NomeEmpresa: lead.Name,
			Telefone:    formatPhone(lead.Phone),
			Localizacao: lead.Address,
			Avaliacao:   lead.Rating,
			Reviews:     lead.ReviewCount,
			TipoEmpresa: job.BusinessType,
			Website:     lead.Website,
		})
	}

	if err := c.searches.MarkCompleted(ctx, job.ID, records); err != nil {
		if errors.Is(err, store.ErrStaleClaim) {
			logger.Warn("job finalized elsewhere, dropping late result",
				zap.Int("leads", len(records)))
			return
		}
		logger.Error("mark completed failed", zap.Error(err))
		return
	}
	metrics.ObserveJobFinished(string(store.SearchConcluido))
	metrics.ObserveLeads(len(records))
	logger.Info("job completed",
		zap.Int("leads", len(records)),
		zap.Duration("duration", time.Since(start)),
	)
}

// refreshCycle recomputes campaign aggregates and, when enabled, returns
// stuck processing jobs to the queue.
func (c *Coordinator) refreshCycle(ctx context.Context) {
	if err := c.campaigns.RefreshStatuses(ctx); err != nil {
		c.logger.Error("campaign status refresh failed", zap.Error(err))
	}
	if c.cfg.StaleProcessingAfter > 0 {
		moved, err := c.dequeuer.ReclaimStale(ctx, c.cfg.StaleProcessingAfter)
		if err != nil {
			c.logger.Error("stale job reclaim failed", zap.Error(err))
		} else if moved > 0 {
			metrics.ObserveReclaims(moved)
			c.logger.Warn("requeued stale processing jobs", zap.Int64("count", moved))
		}
	}
}

// formatPhone keeps digits and a leading plus, matching how leads are
// deduplicated by phone number.
func formatPhone(phone string) string {
	var b strings.Builder
	for i, r := range phone {
		if r >= '0' && r <= '9' || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
