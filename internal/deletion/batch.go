package deletion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fruitsalade/studiovault/internal/catalog"
	"github.com/fruitsalade/studiovault/internal/logging"
	"github.com/fruitsalade/studiovault/internal/metrics"
	"github.com/fruitsalade/studiovault/internal/models"
)

// ItemResult is the outcome for one filename of a batch.
type ItemResult struct {
	Filename string
	Result   *Result
	Err      error
}

func (it ItemResult) MarshalJSON() ([]byte, error) {
	out := struct {
		Filename string  `json:"filename"`
		Result   *Result `json:"result,omitempty"`
		Error    string  `json:"error,omitempty"`
	}{Filename: it.Filename, Result: it.Result}
	if it.Err != nil {
		out.Error = it.Err.Error()
	}
	return json.Marshal(out)
}

// BatchResult summarises a batch deletion.
type BatchResult struct {
	ID        string
	Items     []ItemResult
	Succeeded int
	Failed    int
	// Collection is the session collection written by the resync pass.
	Collection []string
}

// Deleted returns the filenames whose deletion committed.
func (b *BatchResult) Deleted() []string {
	var out []string
	for _, it := range b.Items {
		if it.Err == nil {
			out = append(out, it.Filename)
		}
	}
	return out
}

// DeleteBatch deletes filenames from one session using a bounded worker
// pool. Items skip the per-asset collection edit; once all items finish a
// single resync rebuilds the collection from the surviving assets and one
// manifest pass drops every deleted entry again, repairing updates lost to
// concurrent manifest writes.
//
// Per-item failures are reported in the result. The returned error is
// non-nil only when the post-batch passes fail.
func (o *Orchestrator) DeleteBatch(ctx context.Context, tenantID, sessionID string, filenames []string) (*BatchResult, error) {
	start := time.Now()
	batch := &BatchResult{ID: uuid.NewString()}
	ctx = logging.WithFields(ctx, zap.String("batch_id", batch.ID))
	log := logging.WithContext(ctx).With(logging.Tenant(tenantID), logging.Session(sessionID))

	seen := make(map[string]bool, len(filenames))
	for _, f := range filenames {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		batch.Items = append(batch.Items, ItemResult{Filename: f})
	}

	workers := o.concurrency
	if workers > len(batch.Items) {
		workers = len(batch.Items)
	}
	log.Info("batch deletion started", zap.Int("items", len(batch.Items)), zap.Int("workers", workers))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				it := &batch.Items[idx]
				it.Result, it.Err = o.deleteOne(ctx, tenantID, sessionID, it.Filename, models.MethodBatch)
			}
		}()
	}
	for i := range batch.Items {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, it := range batch.Items {
		if it.Err != nil {
			batch.Failed++
		} else {
			batch.Succeeded++
		}
	}

	order, err := o.resyncCollection(ctx, sessionID)
	if err != nil {
		return batch, fmt.Errorf("batch %s: resync collection: %w", batch.ID, err)
	}
	batch.Collection = order

	if deleted := batch.Deleted(); len(deleted) > 0 {
		if err := o.manifests.RemoveAll(ctx, tenantID, sessionID, deleted); err != nil {
			return batch, fmt.Errorf("batch %s: repair manifest: %w", batch.ID, err)
		}
	}

	metrics.RecordBatch(time.Since(start))
	log.Info("batch deletion finished",
		zap.Int("succeeded", batch.Succeeded),
		zap.Int("failed", batch.Failed),
		zap.Duration("elapsed", time.Since(start)))
	return batch, nil
}

// resyncCollection rewrites the session collection as its current order
// filtered to assets that still exist. It is one transaction and one write.
func (o *Orchestrator) resyncCollection(ctx context.Context, sessionID string) ([]string, error) {
	assets, err := o.catalog.ListAssets(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	alive := make(map[string]bool, len(assets))
	for _, a := range assets {
		alive[a.Filename] = true
	}

	tx, err := o.catalog.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	order, err := tx.Collection(ctx, sessionID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	kept := make([]string, 0, len(order))
	for _, f := range order {
		if alive[f] {
			kept = append(kept, f)
		}
	}
	if err := tx.SetCollection(ctx, sessionID, kept); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	metrics.RecordCollectionResync()
	return kept, nil
}
