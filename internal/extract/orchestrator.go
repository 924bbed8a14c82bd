// Package extract implements the Extraction Orchestrator (C4) from
// spec.md §4.4: per-type strategy selection between a parallel paged fetch
// and a sequential fetch, checkpointed progress, and resume support.
package extract

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/z3z1ma/lookervault/internal/content"
	"github.com/z3z1ma/lookervault/internal/errkind"
	"github.com/z3z1ma/lookervault/internal/looker"
	"github.com/z3z1ma/lookervault/internal/metrics"
	"github.com/z3z1ma/lookervault/internal/offset"
	"github.com/z3z1ma/lookervault/internal/ratelimit"
	"github.com/z3z1ma/lookervault/internal/store"
)

// Config holds the per-session knobs surfaced as CLI flags in spec.md §6.
type Config struct {
	Workers            int
	PageSize           int64
	CheckpointInterval int
	MaxRetries         int
	FolderIDs          []string
	IncludeDeleted     bool
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = 100
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	return c
}

// folderFilterable is the set of content types the Looker API lets the
// orchestrator scope by folder at the SDK level, per spec.md §4.4 "Folder
// filter" and open question 3 (the rest filter in-memory post-fetch).
var folderFilterable = map[content.Type]bool{
	content.TypeDashboard: true,
	content.TypeLook:      true,
}

// parallelCapable is the set of paginated, search-capable types spec.md
// §4.4 names as eligible for the Parallel Fetch strategy.
var parallelCapable = map[content.Type]bool{
	content.TypeDashboard: true,
	content.TypeLook:      true,
	content.TypeUser:      true,
	content.TypeGroup:     true,
	content.TypeRole:      true,
}

// Orchestrator drives extraction sessions, per spec.md §4.4.
type Orchestrator struct {
	Store   store.Store
	Client  looker.Client
	Limiter *ratelimit.Limiter
	Codec   *content.Codec
	Logger  *log.Entry
}

// Run executes one extraction session across types, persisting a session
// row and per-type checkpoints as it goes.
func (o *Orchestrator) Run(ctx context.Context, sessionID string, types []content.Type, cfg Config) error {
	cfg = cfg.withDefaults()
	logger := o.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	sess := content.ExtractionSession{ID: sessionID, Status: content.StatusRunning}
	if err := o.Store.CreateExtractionSession(ctx, sess); err != nil {
		return fmt.Errorf("create extraction session: %w", err)
	}

	var totalItems, successCount, errorCount int64
	finalStatus := content.StatusCompleted
	for _, ct := range types {
		metrics.ActiveWorkers.WithLabelValues("extract").Set(float64(cfg.Workers))
		n, errs, err := o.runType(ctx, sessionID, ct, cfg, logger)
		metrics.ActiveWorkers.WithLabelValues("extract").Set(0)
		atomic.AddInt64(&totalItems, n)
		atomic.AddInt64(&successCount, n-errs)
		atomic.AddInt64(&errorCount, errs)
		if err != nil {
			if errkind.Classify(err) == errkind.Cancelled {
				finalStatus = content.StatusCancelled
			} else {
				finalStatus = content.StatusFailed
			}
			break
		}
	}

	completedAt := time.Now().UTC()
	sess.Status = finalStatus
	sess.TotalItems = int(totalItems)
	sess.SuccessCount = int(successCount)
	sess.ErrorCount = int(errorCount)
	sess.CompletedAt = &completedAt
	if err := o.Store.UpdateExtractionSession(ctx, sess); err != nil {
		return fmt.Errorf("finalize extraction session: %w", err)
	}
	if finalStatus != content.StatusCompleted {
		return fmt.Errorf("extraction session %s ended in state %s", sessionID, finalStatus)
	}
	return nil
}

// runType extracts one content type, returning (itemsProcessed, itemsFailed, error).
func (o *Orchestrator) runType(ctx context.Context, sessionID string, ct content.Type, cfg Config, logger *log.Entry) (int64, int64, error) {
	folders := cfg.FolderIDs
	if !folderFilterable[ct] {
		// Non-folder-filterable types ignore the folder IDs: the fetch is
		// unscoped and its results are not filtered by folder.
		folders = nil
	}
	if len(folders) == 0 {
		return o.runTypeFiltered(ctx, sessionID, ct, looker.Filter{Deleted: cfg.IncludeDeleted}, cfg, logger)
	}

	// Folder filter: one SDK-scoped sub-run per folder (spec.md §4.4).
	var totalItems, totalErrs int64
	for _, fid := range folders {
		n, errs, err := o.runTypeFiltered(ctx, sessionID, ct, looker.Filter{FolderIDs: []string{fid}, Deleted: cfg.IncludeDeleted}, cfg, logger)
		totalItems += n
		totalErrs += errs
		if err != nil {
			return totalItems, totalErrs, err
		}
	}
	return totalItems, totalErrs, nil
}

func (o *Orchestrator) runTypeFiltered(ctx context.Context, sessionID string, ct content.Type, filter looker.Filter, cfg Config, logger *log.Entry) (int64, int64, error) {
	var startOffset int64
	completed := map[string]bool{}

	cp, ok, err := o.Store.GetLatestCheckpoint(ctx, store.KindExtraction, ct, sessionID)
	if err != nil {
		return 0, 0, fmt.Errorf("get checkpoint for %s: %w", ct, err)
	}
	if ok {
		if cp.Data.LastOffset != nil {
			startOffset = *cp.Data.LastOffset
		}
		for _, id := range cp.Data.CompletedIDs {
			completed[id] = true
		}
	}

	workers := cfg.Workers
	if !parallelCapable[ct] {
		workers = 1
	}

	coord := offset.New(startOffset, cfg.PageSize)
	var (
		mu              sync.Mutex
		completedIDs    = append([]string{}, cp.Data.CompletedIDs...)
		sinceCheckpoint int
		itemCount       int64
		errCount        int64
		lastOffsetSeen  = startOffset
	)

	flushCheckpoint := func() error {
		mu.Lock()
		data := content.CheckpointData{
			CompletedIDs: append([]string{}, completedIDs...),
			LastOffset:   ptrInt64(lastOffsetSeen),
		}
		mu.Unlock()
		return o.Store.SaveCheckpoint(ctx, store.KindExtraction, content.Checkpoint{
			SessionID:   sessionID,
			ContentType: ct,
			Data:        data,
			ItemCount:   int(atomic.LoadInt64(&itemCount)),
			ErrorCount:  int(atomic.LoadInt64(&errCount)),
		})
	}

	grp, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		grp.Go(func() error {
			for {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				off, ok := coord.Claim()
				if !ok {
					return nil
				}

				var page looker.Page
				err := withRetry(gctx, cfg.MaxRetries, o.Limiter, ct, func() error {
					if err := o.Limiter.Acquire(gctx); err != nil {
						return errkind.New(errkind.Cancelled, "acquire", err)
					}
					var fetchErr error
					page, fetchErr = o.Client.List(gctx, ct, filter, off, coord.Limit())
					return fetchErr
				})
				if err != nil {
					return fmt.Errorf("list %s at offset %d: %w", ct, off, err)
				}

				mu.Lock()
				if off > lastOffsetSeen {
					lastOffsetSeen = off
				}
				mu.Unlock()

				for _, raw := range page.Items {
					if completed[raw.ID] {
						continue
					}
					encoded, encErr := o.Codec.Encode(raw.Body)
					if encErr != nil {
						atomic.AddInt64(&errCount, 1)
						logger.WithError(encErr).WithField("id", raw.ID).Warn("failed to encode content item, dropping from page")
						continue
					}
					item := content.Item{
						ID:          raw.ID,
						ContentType: ct,
						Name:        stringField(raw.Body, "title", "name"),
						OwnerID:     stringField(raw.Body, "user_id", "owner_id"),
						FolderID:    stringField(raw.Body, "folder_id"),
						ParentID:    stringField(raw.Body, "parent_id"),
						ContentData: encoded,
						ContentSize: len(encoded),
					}
					if err := o.Store.SaveContent(gctx, item); err != nil {
						atomic.AddInt64(&errCount, 1)
						logger.WithError(err).WithField("id", raw.ID).Warn("failed to save content item")
						continue
					}
					atomic.AddInt64(&itemCount, 1)
					metrics.ItemsProcessed.WithLabelValues("extract", ct.String()).Inc()

					mu.Lock()
					completedIDs = append(completedIDs, raw.ID)
					sinceCheckpoint++
					shouldFlush := sinceCheckpoint >= cfg.CheckpointInterval
					if shouldFlush {
						sinceCheckpoint = 0
					}
					mu.Unlock()
					if shouldFlush {
						if err := flushCheckpoint(); err != nil {
							logger.WithError(err).Warn("failed to flush checkpoint")
						}
					}
				}

				if !page.HasMore || int64(len(page.Items)) < coord.Limit() {
					coord.MarkEnd()
				}
			}
		})
	}

	runErr := grp.Wait()
	if flushErr := flushCheckpoint(); flushErr != nil && runErr == nil {
		runErr = flushErr
	}
	return atomic.LoadInt64(&itemCount), atomic.LoadInt64(&errCount), runErr
}

func ptrInt64(v int64) *int64 { return &v }

func stringField(body map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := body[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// withRetry retries fn on retryable errkind classifications (RateLimited,
// Transient) with exponential backoff and jitter, up to maxRetries, per
// spec.md §4.4 "Errors". A RateLimited observation also triggers the
// limiter's global slowdown.
func withRetry(ctx context.Context, maxRetries int, limiter *ratelimit.Limiter, ct content.Type, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			d := backoff(attempt)
			select {
			case <-ctx.Done():
				return errkind.New(errkind.Cancelled, "withRetry", ctx.Err())
			case <-time.After(d):
			}
		}
		err := fn()
		if err == nil {
			limiter.ReportSuccess()
			return nil
		}
		kind := errkind.Classify(err)
		if kind == errkind.RateLimited {
			limiter.ReportRateLimited()
			metrics.RateLimitEvents.WithLabelValues(ct.String()).Inc()
		}
		if !kind.Retryable() {
			return err
		}
		metrics.ItemsRetried.WithLabelValues("extract", ct.String()).Inc()
		lastErr = err
	}
	return fmt.Errorf("exhausted %d retries: %w", maxRetries, lastErr)
}

func backoff(attempt int) time.Duration {
	base := 100 * time.Millisecond
	d := base << uint(attempt-1)
	if d > 10*time.Second || d <= 0 {
		d = 10 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(d) + 1))
	return d/2 + jitter/2
}
