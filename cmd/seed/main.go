package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"collection-viewer/internal/collectionindex"
	"collection-viewer/internal/docstore"
	"collection-viewer/internal/kvstore"
	"collection-viewer/internal/models"
	"collection-viewer/internal/thumbnail"

	"github.com/brianvoe/gofakeit/v7"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	// Default timeout for document store operations
	defaultTimeout = 30 * time.Second

	defaultMongoURI  = "mongodb://localhost:27017"
	defaultDatabase  = "collectionviewer"
	defaultRedisAddr = "localhost:6379"

	progressEvery = 100
)

func main() {
	collections := flag.Int("collections", 200, "number of collections to create")
	libraries := flag.Int("libraries", 2, "number of libraries to create")
	jobs := flag.Int("jobs", 0, "number of pending background jobs to create")
	rebuild := flag.Bool("rebuild", false, "run a full index rebuild after seeding")
	seed := flag.Uint64("seed", 0, "random seed (0 picks one)")
	flag.Usage = printUsage
	flag.Parse()

	if *collections < 0 || *libraries < 1 || *jobs < 0 {
		fmt.Fprintln(os.Stderr, "Error: -collections and -jobs must be >= 0, -libraries >= 1")
		os.Exit(1)
	}

	// Create a context that cancels on interrupt signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
	}()

	uri, dbName := storeTarget()
	connectCtx, connectCancel := context.WithTimeout(ctx, defaultTimeout)
	store, err := docstore.Connect(connectCtx, uri, dbName)
	connectCancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to connect to document store: %v\n", err)
		fmt.Fprintf(os.Stderr, "Make sure MONGO_URI and MONGO_DATABASE are set correctly (current: %s / %s)\n", uri, dbName)
		os.Exit(1)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := store.Close(closeCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close document store: %v\n", err)
		}
	}()

	if err := store.EnsureIndexes(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to ensure indexes: %v\n", err)
		os.Exit(1)
	}

	f := gofakeit.New(*seed)

	libs, err := seedLibraries(ctx, store, f, *libraries)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Created %d libraries\n", len(libs))

	ids, err := seedCollections(ctx, store, f, libs, *collections)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Created %d collections\n", len(ids))

	if *jobs > 0 {
		n, err := seedJobs(ctx, store, f, ids, *jobs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created %d pending jobs\n", n)
	}

	if *rebuild {
		if err := rebuildIndex(ctx, store); err != nil {
			fmt.Fprintf(os.Stderr, "Error: index rebuild failed: %v\n", err)
			os.Exit(1)
		}
	}
}

// storeTarget resolves the document store location from the environment.
func storeTarget() (uri, dbName string) {
	uri = os.Getenv("MONGO_URI")
	if uri == "" {
		uri = defaultMongoURI
	}
	dbName = os.Getenv("MONGO_DATABASE")
	if dbName == "" {
		dbName = defaultDatabase
	}
	return uri, dbName
}

// kvsTarget resolves the key-value store location from the environment.
func kvsTarget() (addr, password string, db int) {
	addr = os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = defaultRedisAddr
	}
	password = os.Getenv("REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			db = n
		}
	}
	return addr, password, db
}

func printUsage() {
	fmt.Println("Collection Viewer catalog seeder")
	fmt.Println("")
	fmt.Println("Usage: seed [flags]")
	fmt.Println("")
	fmt.Println("Flags:")
	fmt.Println("  -collections <n>  collections to create (default 200)")
	fmt.Println("  -libraries <n>    libraries to spread them across (default 2)")
	fmt.Println("  -jobs <n>         pending background jobs to create (default 0)")
	fmt.Println("  -rebuild          run a full index rebuild after seeding")
	fmt.Println("  -seed <n>         random seed for reproducible catalogs")
	fmt.Println("")
	fmt.Println("Environment:")
	fmt.Printf("  MONGO_URI      - Document store URI (default: %s)\n", defaultMongoURI)
	fmt.Printf("  MONGO_DATABASE - Database name (default: %s)\n", defaultDatabase)
	fmt.Printf("  REDIS_ADDR     - Key-value store for -rebuild (default: %s)\n", defaultRedisAddr)
}

func seedLibraries(ctx context.Context, store *docstore.Store, f *gofakeit.Faker, n int) ([]models.Library, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	libs := make([]models.Library, 0, n)
	for i := 0; i < n; i++ {
		lib := models.Library{
			Name:     fmt.Sprintf("%s %s", title(f.Adjective()), title(f.Noun())),
			Path:     fmt.Sprintf("/data/libraries/%s-%02d", slugify(f.Noun()), i+1),
			IsPublic: f.Bool(),
			IsActive: true,
		}
		if _, err := store.Libraries.Create(ctx, &lib); err != nil {
			return nil, fmt.Errorf("create library %d: %w", i+1, err)
		}
		libs = append(libs, lib)
	}
	return libs, nil
}

func seedCollections(ctx context.Context, store *docstore.Store, f *gofakeit.Faker, libs []models.Library, n int) ([]primitive.ObjectID, error) {
	ids := make([]primitive.ObjectID, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return ids, err
		}
		lib := libs[f.Number(0, len(libs)-1)]
		c := fakeCollection(f, &lib, i)

		opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
		id, err := store.Collections.Insert(opCtx, c)
		cancel()
		if err != nil {
			return ids, fmt.Errorf("insert collection %d: %w", i+1, err)
		}
		ids = append(ids, id)

		if (i+1)%progressEvery == 0 {
			fmt.Printf("  %d/%d collections...\n", i+1, n)
		}
	}
	return ids, nil
}

// fakeCollection builds one plausible collection document. Roughly a third
// are archives; image dimensions stay 0 the way a scan leaves them before
// the thumbnail pass probes headers.
func fakeCollection(f *gofakeit.Faker, lib *models.Library, seq int) *models.Collection {
	name := fmt.Sprintf("%s %s %d", title(f.Adjective()), title(f.Noun()), f.Number(1, 99))
	ctype := models.TypeFolder
	path := filepath.Join(lib.Path, fmt.Sprintf("%s-%05d", slugify(name), seq))
	if f.Number(1, 100) <= 30 {
		ctype = models.TypeArchive
		path += ".zip"
	}

	now := time.Now().UTC()
	created := f.DateRange(now.AddDate(-2, 0, 0), now)

	imageCount := f.Number(5, 240)
	images := make([]models.ImageEntry, 0, imageCount)
	var totalSize int64
	for j := 0; j < imageCount; j++ {
		rel := fmt.Sprintf("page_%03d.jpg", j+1)
		size := int64(f.Number(40_000, 4_000_000))
		entry := models.ImageEntry{
			ID:           primitive.NewObjectID(),
			Filename:     rel,
			RelativePath: rel,
			FileSize:     size,
			CreatedAt:    created,
		}
		if ctype == models.TypeArchive {
			entry.Archive = models.ArchiveRef{
				ArchivePath:      path,
				EntryName:        rel,
				FileType:         models.FileArchiveEntry,
				CompressedSize:   size * 9 / 10,
				UncompressedSize: size,
			}
		} else {
			entry.Archive = models.ArchiveRef{
				EntryName: rel,
				FileType:  models.FileRegular,
			}
		}
		images = append(images, entry)
		totalSize += size
	}

	tags := make([]string, 0, 3)
	for j := 0; j < f.Number(0, 3); j++ {
		tags = append(tags, f.Word())
	}

	return &models.Collection{
		LibraryID:   &lib.ID,
		Name:        name,
		Description: f.Sentence(8),
		Path:        path,
		Type:        ctype,
		IsActive:    true,
		CreatedAt:   created,
		Statistics: models.CollectionStatistics{
			TotalItems: int64(imageCount),
			TotalSize:  totalSize,
			TotalViews: int64(f.Number(0, 500)),
		},
		Metadata: models.CollectionMetadata{Tags: tags},
		Images:   images,
	}
}

func seedJobs(ctx context.Context, store *docstore.Store, f *gofakeit.Faker, collections []primitive.ObjectID, n int) (int, error) {
	if len(collections) == 0 {
		return 0, fmt.Errorf("no collections to attach jobs to")
	}
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	types := []models.JobType{
		models.JobScanCollection,
		models.JobGenerateThumbnails,
		models.JobGenerateCache,
	}
	created := 0
	for i := 0; i < n; i++ {
		id := collections[f.Number(0, len(collections)-1)]
		job := models.BackgroundJob{
			JobType:      types[f.Number(0, len(types)-1)],
			CollectionID: &id,
		}
		if _, err := store.Jobs.Create(ctx, &job); err != nil {
			return created, fmt.Errorf("create job %d: %w", i+1, err)
		}
		created++
	}
	return created, nil
}

// rebuildIndex runs a full rebuild against the seeded catalog. Thumbnail
// caching is skipped because seeded image paths do not exist on disk.
func rebuildIndex(ctx context.Context, store *docstore.Store) error {
	addr, password, db := kvsTarget()
	kvs := kvstore.NewStore(addr, password, db)
	defer kvs.Close()

	if err := kvs.WaitReady(ctx, 10*time.Second); err != nil {
		return fmt.Errorf("key-value store not ready at %s: %w", addr, err)
	}

	settings := thumbnail.NewSettingsCache(store.Settings, 0)
	encoder := thumbnail.NewEncoder(thumbnail.DefaultPolicy(), settings)
	engine := collectionindex.NewEngine(kvs, store.Collections, encoder)

	stats, err := engine.RebuildIndex(ctx, collectionindex.RebuildFull, collectionindex.RebuildOptions{
		SkipThumbnailCaching: true,
		Progress: func(done, total int64) {
			fmt.Printf("  indexed %d/%d...\n", done, total)
		},
	})
	if err != nil {
		return err
	}
	fmt.Printf("Rebuilt index: %d collections in %s\n", stats.Rebuilt, stats.Duration.Round(time.Millisecond))
	return nil
}

// title uppercases the first letter of an ASCII word.
func title(s string) string {
	if s == "" {
		return s
	}
	if c := s[0]; c >= 'a' && c <= 'z' {
		return string(c-'a'+'A') + s[1:]
	}
	return s
}

// slugify lowercases a name and collapses everything outside [a-z0-9] into
// single hyphens.
func slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
