package cmd

import (
	"fmt"

	"github.com/cqroot/prompt"
	"github.com/urfave/cli/v2"

	"github.com/Riotcoke123/IP2Node/config"
)

func initCmd() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Interactively create a sources config file",
		Description: `Walks through the feed sources you want to poll and writes them to
a TOML config file that the serve and run commands accept via --config.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "sources.toml",
				Usage:   "Path to write the sources configuration to",
				EnvVars: []string{"IP2NODE_CONFIG"},
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg := &config.TomlConfig{}

			for {
				name, err := prompt.New().Ask("Source name:").Input("ip2always")
				if err != nil {
					return err
				}

				url, err := prompt.New().Ask("Source URL:").Input("https://scored.co/api/v2/post/newv2.json?community=" + name)
				if err != nil {
					return err
				}

				cfg.Sources = append(cfg.Sources, config.TomlSource{Name: name, URL: url})

				more, err := prompt.New().Ask("Add another source?").Choose([]string{"no", "yes"})
				if err != nil {
					return err
				}
				if more != "yes" {
					break
				}
			}

			path := ctx.String("config")
			if err := config.WriteSources(path, cfg); err != nil {
				return err
			}

			fmt.Printf("Wrote %d source(s) to %s\n", len(cfg.Sources), path)
			return nil
		},
	}
}
