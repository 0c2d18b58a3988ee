package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/Riotcoke123/IP2Node/models"
	"github.com/Riotcoke123/IP2Node/store"
)

// CycleRunner triggers one processing cycle. Satisfied by the pipeline
// coordinator.
type CycleRunner interface {
	RunCycle(ctx context.Context) models.CycleResult
}

type ServerConfig struct {

	// The record store backing the read endpoints
	Store *store.Store

	// The coordinator behind the manual trigger endpoint
	Runner CycleRunner

	// Broadcast channel registry for SSE clients
	Broadcaster *Broadcaster
}

// Broadcaster fans record events out to connected SSE clients.
type Broadcaster struct {
	sync.RWMutex
	clients map[string]chan models.RecordEvent
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]chan models.RecordEvent),
	}
}

func (b *Broadcaster) Broadcast(event models.RecordEvent) {
	b.RLock()
	defer b.RUnlock()

	for id, client := range b.clients {
		select {
		case client <- event: // Non-blocking send
		default:
			log.Warnf("Client channel full, skipping record for client: %v", id)
		}
	}
}

func (b *Broadcaster) AddClient(key string, client chan models.RecordEvent) {
	b.Lock()
	defer b.Unlock()
	b.clients[key] = client
	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.clients),
	}).Info("Adding client to broadcaster")
}

func (b *Broadcaster) RemoveClient(key string) {
	b.Lock()
	defer b.Unlock()

	if client, ok := b.clients[key]; ok {
		close(client)
		delete(b.clients, key)
	}

	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.clients),
	}).Info("Removed client from broadcaster")
}

func (b *Broadcaster) Shutdown() {
	log.Info("Shutting down broadcaster")
	b.Lock()
	defer b.Unlock()
	for key, client := range b.clients {
		close(client)
		delete(b.clients, key)
	}
}

// dashboardView is the presentation shape for the dashboard endpoint:
// newest records first, plus a count.
type dashboardView struct {
	Count   int             `json:"count"`
	Records []models.Record `json:"records"`
}

// Returns a fiber.App instance serving the record store and the manual
// cycle trigger
func Server(config *ServerConfig) *fiber.App {

	bc := config.Broadcaster

	app := fiber.New()

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"latency": time.Since(start),
		}).Info("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New())
	app.Use(cors.New(cors.Config{
		AllowHeaders: "Cache-Control",
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Manual cycle trigger. Runs synchronously so the caller gets the real
	// result, not a promise.
	app.Post("/api/cycle", func(c *fiber.Ctx) error {
		result := config.Runner.RunCycle(c.UserContext())

		status := fiber.StatusOK
		if result.InProgress {
			status = fiber.StatusConflict
		} else if !result.Success {
			status = fiber.StatusInternalServerError
		}

		return c.Status(status).JSON(result)
	})

	// Full store contents in insertion order
	app.Get("/api/records", func(c *fiber.Ctx) error {
		return c.JSON(config.Store.Load())
	})

	// Presentation view: reverse insertion order with a count
	app.Get("/api/dashboard", func(c *fiber.Ctx) error {
		records := config.Store.Load()
		reversed := lo.Reverse(append([]models.Record{}, records...))

		return c.JSON(dashboardView{
			Count:   len(reversed),
			Records: reversed,
		})
	})

	app.Delete("/dashboard/feed/sse", func(c *fiber.Ctx) error {
		key := c.Query("key", "")
		bc.RemoveClient(key)
		return c.Status(200).SendString("OK")
	})

	app.Get("/dashboard/feed/sse", func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("Transfer-Encoding", "chunked")

		// Unique client key
		key := uuid.New().String()
		recordChannel := make(chan models.RecordEvent, 10) // Buffered channel
		aliveChan := time.NewTicker(5 * time.Second)

		defer aliveChan.Stop()

		bc.AddClient(key, recordChannel)

		cleanup := func() {
			log.Infof("Cleaning up SSE stream for client: %s", key)
			bc.RemoveClient(key)
		}

		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer cleanup()

			// Send initial event with client key
			fmt.Fprintf(w, "event: init\ndata: %s\n\n", key)
			if err := w.Flush(); err != nil {
				log.Errorf("Failed to send init event: %v", err)
				return
			}

			for {
				select {
				case <-aliveChan.C:
					// Send keep-alive pings
					if _, err := fmt.Fprintf(w, "event: ping\ndata: \n\n"); err != nil {
						log.Warnf("Failed to send ping to client %s: %v", key, err)
						return
					}
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush ping for client %s: %v", key, err)
						return
					}

				case event, ok := <-recordChannel:
					if !ok {
						log.Warnf("Record channel closed for client %s", key)
						return
					}
					jsonRecord, err := json.Marshal(event.Record)
					if err != nil {
						log.Errorf("Error marshalling record for client %s: %v", key, err)
						continue
					}
					if _, err := fmt.Fprintf(w, "event: new-record\ndata: %s\n\n", jsonRecord); err != nil {
						log.Warnf("Failed to send new-record event to client %s: %v", key, err)
						return
					}
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush new-record event for client %s: %v", key, err)
						return
					}
				}
			}
		}))

		return nil
	})

	return app
}
