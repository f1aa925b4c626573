// Package scheduler fires recurring background jobs from cron expressions
// stored in the scheduled_jobs collection.
package scheduler

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"collection-viewer/internal/logging"
	"collection-viewer/internal/models"

	"github.com/robfig/cron/v3"
)

// enqueueTimeout bounds the store and bus work one firing does.
const enqueueTimeout = 30 * time.Second

// Store is the slice of the scheduled job store the service reads and
// stamps.
type Store interface {
	ListEnabled(ctx context.Context) ([]models.ScheduledJob, error)
	MarkRun(ctx context.Context, id primitive.ObjectID, ranAt, nextAt time.Time) error
}

// Enqueuer persists and announces one background job.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *models.BackgroundJob) (primitive.ObjectID, error)
}

// Service owns a cron runner whose entries enqueue background jobs. Load
// reads the store once; edits to scheduled jobs take effect on restart.
type Service struct {
	store Store
	enq   Enqueuer
	cron  *cron.Cron
}

// New builds an idle service. Call Load then Start.
func New(store Store, enq Enqueuer) *Service {
	return &Service{
		store: store,
		enq:   enq,
		cron:  cron.New(),
	}
}

// Load registers every enabled scheduled job. Entries whose cron expression
// does not parse are logged and skipped so one bad row cannot take the
// whole schedule down. Returns how many entries were registered.
func (s *Service) Load(ctx context.Context) (int, error) {
	entries, err := s.store.ListEnabled(ctx)
	if err != nil {
		return 0, err
	}

	registered := 0
	for i := range entries {
		entry := entries[i]
		schedule, err := cron.ParseStandard(entry.CronExpr)
		if err != nil {
			logging.Warn("Scheduled job %q has invalid cron expression %q: %v; skipping", entry.Name, entry.CronExpr, err)
			continue
		}
		s.cron.Schedule(schedule, cron.FuncJob(func() { s.run(entry, schedule) }))
		registered++
		logging.Debug("Scheduled job %q registered (%s, %s)", entry.Name, entry.JobType, entry.CronExpr)
	}
	return registered, nil
}

// Start begins firing registered entries.
func (s *Service) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for any in-flight firing to finish.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
}

// run is one firing: enqueue the job, then stamp the run either way. The
// stamp records the attempt; a failed enqueue only loses this occurrence
// and the next firing tries again.
func (s *Service) run(entry models.ScheduledJob, schedule cron.Schedule) {
	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()

	job := &models.BackgroundJob{
		JobType:      entry.JobType,
		CollectionID: entry.CollectionID,
		LibraryID:    entry.LibraryID,
		Parameters:   entry.Parameters,
	}
	id, err := s.enq.Enqueue(ctx, job)
	if err != nil {
		logging.Error("Scheduled job %q enqueue failed: %v", entry.Name, err)
	} else {
		logging.Info("Scheduled job %q fired as %s", entry.Name, id.Hex())
	}

	now := time.Now().UTC()
	if err := s.store.MarkRun(ctx, entry.ID, now, schedule.Next(now)); err != nil {
		logging.Warn("Run stamp for scheduled job %q failed: %v", entry.Name, err)
	}
}
