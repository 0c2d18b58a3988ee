package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/Riotcoke123/IP2Node/models"
)

// CycleFunc runs one processing cycle and reports what happened.
type CycleFunc func(ctx context.Context) models.CycleResult

// Scheduler invokes the processing cycle on a fixed interval. Overlap
// protection lives in the coordinator, not here; when a tick fires while a
// cycle still runs, the tick simply comes back with the in-progress marker.
type Scheduler struct {
	cron *cron.Cron
}

func New(interval time.Duration, run CycleFunc) (*Scheduler, error) {
	c := cron.New()

	_, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		start := time.Now()
		result := run(context.Background())

		if result.InProgress {
			log.Info("Scheduled cycle skipped, previous cycle still running")
			return
		}

		log.WithFields(log.Fields{
			"success":      result.Success,
			"newItems":     result.NewItemsAdded,
			"postsChecked": result.PostsCheckedThisCycle,
			"duration":     time.Since(start),
		}).Info("Scheduled cycle finished")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule cycle: %w", err)
	}

	return &Scheduler{cron: c}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for an already running invocation to
// return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
