// Package gc reclaims blobs no document references anymore.
//
// # Orphan Collection
//
// [OrphanAction] is a bulk action run over the blob scroller. When the
// command starts it marks: every repository served by a provider sharing a
// storage with the swept providers is scanned, and the referenced keys are
// unioned per storage. Each scrolled item is then swept:
//
//   - a dedup store key that is not a valid digest is left alone;
//   - a referenced key is skipped;
//   - an orphan is deleted, or only reported in dry-run mode.
//
// Providers sharing a storage each enumerate it, so the item counters of a
// shared storage are multiplied by the number of sharing providers. Each
// orphan is deleted by exactly one enumeration and skipped by the others.
// Which one depends on timing: the next enumeration can start before the
// previous one finished deleting, so per-pass counts vary between runs.
//
// A blob written after the mark phase and before its sweep is not marked
// and can be collected.
//
// # Single Blob Deletion
//
// [Collector.DeleteBlob] removes one key after checking no document of the
// provider's repositories references it. Shared storages are refused.
//
// # Usage
//
//	sched := gc.NewScheduler(bulkService, gc.SchedulerConfig{
//	    Interval:     6 * time.Hour,
//	    Repositories: []string{"default"},
//	}, logger)
//	sched.Start()
//	defer sched.Stop()
package gc
