package cmd

import (
	"fmt"
	"net/url"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Riotcoke123/IP2Node/config"
)

// pipelineFlags are shared by every command that runs processing cycles.
func pipelineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a TOML file listing feed sources",
			EnvVars: []string{"IP2NODE_CONFIG"},
		},
		&cli.StringSliceFlag{
			Name:    "sources",
			Usage:   "Feed source URLs, used when no config file is given",
			EnvVars: []string{"IP2NODE_SOURCES"},
		},
		&cli.StringFlag{
			Name:    "api-key",
			Usage:   "API key sent with every feed request",
			EnvVars: []string{"IP2NODE_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "api-secret",
			Usage:   "API secret sent with every feed request",
			EnvVars: []string{"IP2NODE_API_SECRET"},
		},
		&cli.StringFlag{
			Name:    "xsrf-token",
			Usage:   "XSRF token sent with every feed request",
			EnvVars: []string{"IP2NODE_XSRF_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "upload-url",
			Usage:   "Re-hosting endpoint accepting multipart uploads",
			EnvVars: []string{"IP2NODE_UPLOAD_URL"},
		},
		&cli.StringFlag{
			Name:    "store",
			Usage:   "Path to the JSON record store",
			Value:   "processed_posts.json",
			EnvVars: []string{"IP2NODE_STORE"},
		},
		&cli.IntFlag{
			Name:    "request-timeout",
			Usage:   "Timeout in seconds for feed fetches and media downloads",
			Value:   15,
			EnvVars: []string{"IP2NODE_REQUEST_TIMEOUT"},
		},
		&cli.IntFlag{
			Name:    "upload-timeout",
			Usage:   "Timeout in seconds for media uploads",
			Value:   120,
			EnvVars: []string{"IP2NODE_UPLOAD_TIMEOUT"},
		},
	}
}

func serveFlags() []cli.Flag {
	return append(pipelineFlags(),
		&cli.StringFlag{
			Name:    "host",
			Usage:   "Host to bind the HTTP server to",
			Value:   "0.0.0.0",
			EnvVars: []string{"IP2NODE_HOST"},
		},
		&cli.IntFlag{
			Name:    "port",
			Usage:   "Port to bind the HTTP server to",
			Value:   8080,
			EnvVars: []string{"IP2NODE_PORT"},
		},
		&cli.IntFlag{
			Name:    "interval",
			Usage:   "Seconds between scheduled processing cycles",
			Value:   600,
			EnvVars: []string{"IP2NODE_INTERVAL"},
		},
	)
}

// buildConfig assembles and validates the runtime configuration from CLI
// flags and, when given, the TOML source list. Validation failures abort
// startup.
func buildConfig(ctx *cli.Context) (*config.Config, error) {
	cfg := &config.Config{
		APIKey:         ctx.String("api-key"),
		APISecret:      ctx.String("api-secret"),
		XSRFToken:      ctx.String("xsrf-token"),
		UploadURL:      ctx.String("upload-url"),
		StorePath:      ctx.String("store"),
		Host:           ctx.String("host"),
		Port:           ctx.Int("port"),
		Interval:       time.Duration(ctx.Int("interval")) * time.Second,
		RequestTimeout: time.Duration(ctx.Int("request-timeout")) * time.Second,
		UploadTimeout:  time.Duration(ctx.Int("upload-timeout")) * time.Second,
	}

	if path := ctx.String("config"); path != "" {
		tomlConfig, err := config.LoadSources(path)
		if err != nil {
			return nil, err
		}
		for _, source := range tomlConfig.Sources {
			cfg.Sources = append(cfg.Sources, config.Source{Name: source.Name, URL: source.URL})
		}
	} else {
		for _, raw := range ctx.StringSlice("sources") {
			cfg.Sources = append(cfg.Sources, config.Source{Name: sourceName(raw), URL: raw})
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func sourceName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}
