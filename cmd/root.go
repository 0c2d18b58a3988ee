package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "ip2node",
		Usage: "Re-host media posts from community feed APIs",
		Description: `IP2Node polls a set of community feed APIs, finds posts that link
		to new media files, re-uploads each file to a pomf-style hosting
		service and appends the result to a local JSON record store. The
		store and a manual cycle trigger are exposed over HTTP.

		Flags can generally be set via environment variables, e.g.:

		--store => IP2NODE_STORE=processed_posts.json
		--port => IP2NODE_PORT=8080
		`,
		Commands: []*cli.Command{
			serveCmd(),
			runCmd(),
			recordsCmd(),
			initCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

func Execute() {
	if err := RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
