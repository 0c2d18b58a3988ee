package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/Riotcoke123/IP2Node/config"
	"github.com/Riotcoke123/IP2Node/feed"
	"github.com/Riotcoke123/IP2Node/models"
	"github.com/Riotcoke123/IP2Node/relay"
	"github.com/Riotcoke123/IP2Node/store"
)

var (
	cycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ip2node_cycles_total",
		Help: "The total number of processing cycles by outcome",
	}, []string{"outcome"})

	recordsAdded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ip2node_records_added_total",
		Help: "The total number of records committed to the store",
	})
)

// Coordinator drives one complete fetch, filter, relay and persist pass
// across all configured sources. At most one cycle runs at any time: the
// running flag is the guard, taken before any work and released on every
// exit path. The guard carries no timeout, so a cycle that never returns
// blocks all future cycles.
type Coordinator struct {
	sources []config.Source
	feeds   *feed.Client
	relayer *relay.Relayer
	store   *store.Store
	events  chan<- models.RecordEvent
	running atomic.Bool
}

// New wires a coordinator. events may be nil when nobody listens for new
// records, e.g. in one-shot command-line runs.
func New(cfg *config.Config, st *store.Store, feeds *feed.Client, relayer *relay.Relayer, events chan<- models.RecordEvent) *Coordinator {
	return &Coordinator{
		sources: cfg.Sources,
		feeds:   feeds,
		relayer: relayer,
		store:   st,
		events:  events,
	}
}

// RunCycle executes one processing cycle and reports what it did. When a
// cycle is already running the call returns immediately with the
// in-progress marker and does no work. A panic anywhere inside the cycle is
// contained here and converted into a zero-count failure result; nothing
// below this boundary ever reaches the scheduler or the HTTP server.
func (c *Coordinator) RunCycle(ctx context.Context) (result models.CycleResult) {
	if !c.running.CompareAndSwap(false, true) {
		log.Info("Cycle already in progress, skipping")
		cycles.WithLabelValues("skipped").Inc()
		return models.CycleResult{InProgress: true}
	}
	defer c.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"panic": r,
			}).Error("Cycle aborted by unexpected error")
			cycles.WithLabelValues("failed").Inc()
			result = models.CycleResult{}
		}
	}()

	result = c.cycle(ctx)

	if result.Success {
		cycles.WithLabelValues("ok").Inc()
	} else {
		cycles.WithLabelValues("failed").Inc()
	}
	return result
}

func (c *Coordinator) cycle(ctx context.Context) models.CycleResult {
	snapshot := c.store.Load()

	seen := make(map[models.RecordKey]struct{}, len(snapshot))
	for _, record := range snapshot {
		seen[record.Key()] = struct{}{}
	}

	candidates := []models.CandidatePost{}
	for _, doc := range c.fetchAll(ctx) {
		candidates = append(candidates, feed.Flatten(doc)...)
	}

	// Relays run one at a time on purpose. Fanning them out would multiply
	// outbound bandwidth and open a window where two posts sharing an
	// identity key both pass the dedupe check.
	var batch []models.Record
	for _, post := range candidates {
		record, ok := prepare(post, seen)
		if !ok {
			continue
		}

		relayURL, ok := c.relayer.Relay(ctx, record.OriginalUrl)
		if !ok {
			continue
		}

		record.RelayUrl = relayURL
		seen[record.Key()] = struct{}{}
		batch = append(batch, record)
	}

	if len(batch) > 0 {
		if err := c.store.Save(append(snapshot, batch...)); err != nil {
			log.WithFields(log.Fields{
				"error":        err,
				"batch":        len(batch),
				"postsChecked": len(candidates),
			}).Error("Failed to commit cycle batch")
			// Failure results carry zero counts; the log above keeps the
			// numbers for the operator.
			return models.CycleResult{}
		}

		recordsAdded.Add(float64(len(batch)))
		for _, record := range batch {
			c.publish(record)
		}
	}

	result := models.CycleResult{
		Success:               true,
		NewItemsAdded:         len(batch),
		TotalItemsInFile:      len(snapshot) + len(batch),
		PostsCheckedThisCycle: len(candidates),
	}

	log.WithFields(log.Fields{
		"newItems":     result.NewItemsAdded,
		"totalItems":   result.TotalItemsInFile,
		"postsChecked": result.PostsCheckedThisCycle,
	}).Info("Cycle complete")

	return result
}

// fetchAll queries every source concurrently and collects the documents
// that came back. Sources fail independently; a missing document just
// means that source contributes nothing this cycle.
func (c *Coordinator) fetchAll(ctx context.Context) []json.RawMessage {
	fetched := make([]json.RawMessage, len(c.sources))

	var wg sync.WaitGroup
	for i, source := range c.sources {
		wg.Add(1)
		go func(i int, source config.Source) {
			defer wg.Done()
			if doc, ok := c.feeds.Fetch(ctx, source); ok {
				fetched[i] = doc
			}
		}(i, source)
	}
	wg.Wait()

	docs := make([]json.RawMessage, 0, len(fetched))
	for _, doc := range fetched {
		if doc != nil {
			docs = append(docs, doc)
		}
	}
	return docs
}

func (c *Coordinator) publish(record models.Record) {
	if c.events == nil {
		return
	}
	select {
	case c.events <- models.RecordEvent{Record: record}: // Non-blocking send
	default:
		log.WithFields(log.Fields{
			"title": record.Title,
		}).Warn("Event channel full, dropping record event")
	}
}
