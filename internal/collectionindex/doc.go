// Package collectionindex maintains the Redis-backed browse index that
// serves every collection listing, navigation, and dashboard read without
// touching MongoDB on the hot path.
//
// # Keyspace
//
// All keys live under the "collection_index:" prefix:
//
//	sorted:{field}:{dir}                      primary orderings
//	sorted:by_library:{libraryId}:{field}:{dir}
//	sorted:by_type:{type}:{field}:{dir}
//	data:{id}     CollectionSummary JSON
//	state:{id}    CollectionIndexState JSON (freshness record)
//	thumb:{id}    encoded thumbnail bytes, 30-day TTL
//	stats:total, last_rebuild
//	dashboard:statistics (5 min TTL), dashboard:metadata (activity, 100)
//
// Sorted sets exist for every combination of field (updatedAt, createdAt,
// name, imageCount, totalSize) and direction. Scores are derived so that
// ZRANGE in ascending rank order yields the requested ordering: times
// become 100ns ticks, counts pass through, names pack their first ten
// lowercased code points into a float. Descending variants negate the
// score. Members are id strings, so score ties fall back to id order.
//
// # Reads
//
// GetNavigation, GetSiblings, GetPage, GetLibraryPage, GetTypePage, and
// SearchPage resolve rank and page windows against the sorted sets, then
// join summaries with one MGET. Summaries missing from Redis are
// synthesized from MongoDB so a partially built index degrades instead of
// failing.
//
// # Writes
//
// AddOrUpdate and Remove keep all orderings for one collection in step
// using a single pipeline. Index write failures are logged and swallowed;
// MongoDB remains the source of truth and the next rebuild or verify pass
// repairs the index.
//
// # Maintenance
//
// RebuildIndex repopulates the index from MongoDB in id-ordered batches of
// 100, with a compacting GC between batches so large runs stay inside the
// memory limit. VerifyIndex diffs the index against MongoDB in both
// directions and repairs what it finds unless dryRun is set. Both share
// one maintenance lock; a second caller gets ErrMaintenanceRunning.
package collectionindex
