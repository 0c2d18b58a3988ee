package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/Riotcoke123/IP2Node/feed"
	"github.com/Riotcoke123/IP2Node/pipeline"
	"github.com/Riotcoke123/IP2Node/relay"
	"github.com/Riotcoke123/IP2Node/store"
)

func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run a single processing cycle and exit",
		Description: `Runs one fetch-filter-relay-persist cycle against the configured
sources and prints the result as JSON on stdout.

Log messages go to stderr so the output can be piped to jq or a file.`,
		Flags: pipelineFlags(),
		Action: func(ctx *cli.Context) error {
			log.SetOutput(os.Stderr)

			cfg, err := buildConfig(ctx)
			if err != nil {
				return err
			}

			st := store.New(cfg.StorePath)
			coordinator := pipeline.New(cfg, st, feed.NewClient(cfg), relay.New(cfg), nil)

			result := coordinator.RunCycle(ctx.Context)

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))

			if !result.Success {
				return cli.Exit("cycle failed", 1)
			}
			return nil
		},
	}
}
