package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/Riotcoke123/IP2Node/models"
	"github.com/Riotcoke123/IP2Node/store"
)

func recordsCmd() *cli.Command {
	return &cli.Command{
		Name:  "records",
		Usage: "Dump the record store to the command line",
		Description: `Prints every record in the store as a JSON object on a single line,
in insertion order. Use a tool like jq to process the output.

Prints all other log messages to stderr.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "store",
				Usage:   "Path to the JSON record store",
				Value:   "processed_posts.json",
				EnvVars: []string{"IP2NODE_STORE"},
			},
		},
		Action: func(ctx *cli.Context) error {
			// Disable logging to stdout
			log.SetOutput(os.Stderr)

			st := store.New(ctx.String("store"))
			for _, record := range st.Load() {
				printStdout(&record)
			}
			return nil
		},
	}
}

func printStdout(record *models.Record) {
	// Print as single JSON string on a single line
	recordJson, err := json.Marshal(record)
	if err == nil {
		fmt.Println(string(recordJson))
	}
}
