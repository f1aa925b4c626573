// Command seed fills the document store with a generated catalog for
// development and load testing.
//
// It creates libraries, collections spread across them (roughly a third
// archives, the rest folders), and optionally a batch of pending background
// jobs, then can run a full index rebuild so the API serves the generated
// catalog immediately.
//
// Usage:
//
//	seed [flags]
//
// Flags:
//
//	-collections <n>  Collections to create (default 200).
//	-libraries <n>    Libraries to spread them across (default 2).
//	-jobs <n>         Pending background jobs to create (default 0).
//	-rebuild          Run a full index rebuild after seeding. Thumbnail
//	                  caching is skipped because generated paths do not
//	                  exist on disk.
//	-seed <n>         Random seed. The same seed against an empty database
//	                  produces the same catalog.
//
// Environment:
//
//	MONGO_URI      - Document store URI (default: mongodb://localhost:27017)
//	MONGO_DATABASE - Database name (default: collectionviewer)
//	REDIS_ADDR     - Key-value store address for -rebuild (default: localhost:6379)
//	REDIS_PASSWORD - Key-value store password
//	REDIS_DB       - Key-value store logical database (default: 0)
//
// Generated image entries carry zero width/height, matching what a real
// scan records before the thumbnail pass probes file headers.
package main
