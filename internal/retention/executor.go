package retention

import (
	"context"
	"fmt"
	"time"

	"envds.org/internal/audit"
	"envds.org/internal/auth"
	"envds.org/internal/docstore"
	"envds.org/internal/ids"
	"envds.org/internal/obs"
)

// batchSize bounds one sweep; remaining expired datasets are picked up
// by the next invocation, soonest-expired first.
const batchSize = 50

// Result summarizes one sweep. Failed counts datasets whose transition
// could not complete; they stay expired and are retried next sweep.
type Result struct {
	ExpiredFound int `json:"expiredFound"`
	Archived     int `json:"archived"`
	Deleted      int `json:"deleted"`
	Failed       int `json:"failed"`

	// AuditWarning is set when the sweep's own audit entry could not be
	// written. The sweep itself still reports success.
	AuditWarning bool `json:"-"`
}

// Executor moves expired datasets out of the live collection, archiving
// or deleting them per their matched rule. The live-delete and
// archive-write pair is not transactional: a crash between the two can
// leave a dataset in both places, which the idempotent re-run tolerates.
// Concurrent sweeps are not coordinated here; callers serialize.
type Executor struct {
	datasets docstore.Collection
	archives docstore.Collection
	public   docstore.Collection
	rec      *audit.Recorder
	now      func() time.Time
}

// NewExecutor constructs an Executor over the given store.
func NewExecutor(store docstore.Store, rec *audit.Recorder) *Executor {
	return &Executor{
		datasets: store.Collection(docstore.Datasets),
		archives: store.Collection(docstore.ArchivedDatasets),
		public:   store.Collection(docstore.PublicDatasets),
		rec:      rec,
		now:      time.Now,
	}
}

// Sweep processes one bounded batch of expired datasets. A failed
// individual transition does not abort the rest of the batch. The whole
// sweep is recorded as a single audit entry with the counters.
func (e *Executor) Sweep(ctx context.Context, actor auth.Principal) (Result, error) {
	nowMs := e.now().UTC().UnixMilli()

	expired, err := e.datasets.Query(ctx, docstore.Query{
		Max:     &docstore.Bound{Field: "expiresAtMs", Value: float64(nowMs)},
		OrderBy: "expiresAtMs",
		Limit:   batchSize,
	})
	if err != nil {
		return Result{}, fmt.Errorf("retention: find expired datasets: %w", err)
	}

	res := Result{ExpiredFound: len(expired)}
	for _, doc := range expired {
		id, _ := doc["id"].(string)
		action := ActionArchive
		if raw, _ := doc["retentionAction"].(string); raw != "" {
			if parsed, ok := ParseAction(raw); ok {
				action = parsed
			}
		}

		var transitionErr error
		if action == ActionArchive {
			transitionErr = e.archive(ctx, id, doc, nowMs)
			if transitionErr == nil {
				res.Archived++
				obs.SweepDatasets.WithLabelValues("archived").Inc()
			}
		} else {
			transitionErr = e.remove(ctx, id)
			if transitionErr == nil {
				res.Deleted++
				obs.SweepDatasets.WithLabelValues("deleted").Inc()
			}
		}
		if transitionErr != nil {
			res.Failed++
			obs.SweepDatasets.WithLabelValues("failed").Inc()
			obs.Warn("retention transition failed", map[string]any{
				"dataset_id": id,
				"action":     string(action),
				"error":      transitionErr.Error(),
			})
		}
	}

	if err := e.rec.RecordFor(ctx, actor, audit.Entry{
		Action: audit.ActionRunRetention,
		Metadata: map[string]any{
			"expiredFound": res.ExpiredFound,
			"archived":     res.Archived,
			"deleted":      res.Deleted,
			"failed":       res.Failed,
		},
	}); err != nil {
		res.AuditWarning = true
	}

	return res, nil
}

// archive writes the archival record (identifying metadata and
// aggregates, never raw payload), removes the live dataset and marks the
// public projection. The projection update is best-effort: its failure
// never blocks the transition.
func (e *Executor) archive(ctx context.Context, id string, doc docstore.Document, nowMs int64) error {
	archiveID := ids.New()
	record := docstore.Document{
		"id":               archiveID,
		"datasetId":        id,
		"ownerId":          doc["ownerId"],
		"ownerEmail":       doc["ownerEmail"],
		"dataType":         doc["dataType"],
		"sensitivityLevel": doc["sensitivityLevel"],
		"createdAtMs":      doc["createdAtMs"],
		"expiredAtMs":      nowMs,
		"aggregates":       doc["aggregates"],
	}
	if err := e.archives.Put(ctx, archiveID, record); err != nil {
		return fmt.Errorf("write archive record: %w", err)
	}
	if err := e.datasets.Delete(ctx, id); err != nil {
		return fmt.Errorf("remove live dataset: %w", err)
	}
	if err := e.public.Merge(ctx, id, docstore.Document{"archivedAtMs": nowMs}); err != nil {
		obs.Warn("public projection update failed", map[string]any{
			"dataset_id": id,
			"error":      err.Error(),
		})
	}
	return nil
}

// remove deletes the live dataset and its public projection; nothing is
// kept. Projection removal is best-effort like the archival path.
func (e *Executor) remove(ctx context.Context, id string) error {
	if err := e.datasets.Delete(ctx, id); err != nil {
		return fmt.Errorf("remove live dataset: %w", err)
	}
	if err := e.public.Delete(ctx, id); err != nil {
		obs.Warn("public projection delete failed", map[string]any{
			"dataset_id": id,
			"error":      err.Error(),
		})
	}
	return nil
}
