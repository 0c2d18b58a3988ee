package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/Riotcoke123/IP2Node/feed"
	"github.com/Riotcoke123/IP2Node/models"
	"github.com/Riotcoke123/IP2Node/pipeline"
	"github.com/Riotcoke123/IP2Node/relay"
	"github.com/Riotcoke123/IP2Node/scheduler"
	"github.com/Riotcoke123/IP2Node/server"
	"github.com/Riotcoke123/IP2Node/store"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the processing loop and HTTP server",
		Description: `Starts the HTTP server and the cycle scheduler.

Every interval the service fetches all configured feed sources, relays any
new media posts to the upload host and appends them to the record store.
The store, a dashboard view, an SSE stream of new records and a manual
cycle trigger are served over HTTP.`,
		Flags: serveFlags(),
		Action: func(ctx *cli.Context) error {

			cfg, err := buildConfig(ctx)
			if err != nil {
				return err
			}

			fmt.Println("Starting ip2node...")

			// Channel carrying committed records to the SSE broadcaster
			events := make(chan models.RecordEvent, 100)

			st := store.New(cfg.StorePath)
			log.WithFields(log.Fields{
				"path": st.Path(),
			}).Info("Using record store")
			coordinator := pipeline.New(cfg, st, feed.NewClient(cfg), relay.New(cfg), events)
			bc := server.NewBroadcaster()

			app := server.Server(&server.ServerConfig{
				Store:       st,
				Runner:      coordinator,
				Broadcaster: bc,
			})

			sched, err := scheduler.New(cfg.Interval, coordinator.RunCycle)
			if err != nil {
				return err
			}

			// Graceful shutdown
			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt)
			var wg sync.WaitGroup
			wg.Add(1)

			go func() {
				<-c
				fmt.Println("Gracefully shutting down...")
				sched.Stop()
				app.ShutdownWithTimeout(60 * time.Second)
				bc.Shutdown()
				close(events)
				wg.Done()
			}()

			go func() {
				for event := range events {
					bc.Broadcast(event)
				}
			}()

			// Run the first cycle right away instead of waiting a full
			// interval
			go coordinator.RunCycle(context.Background())

			sched.Start()

			go func() {
				fmt.Println("Starting server...")
				if err := app.Listen(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)); err != nil {
					log.Panic(err)
				}
			}()

			wg.Wait()

			fmt.Println("Done!")
			return nil
		},
	}
}
