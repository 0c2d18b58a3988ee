package feed

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/Riotcoke123/IP2Node/config"
)

var (
	feedFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ip2node_feed_fetches_total",
		Help: "The total number of feed fetch attempts by source and outcome",
	}, []string{"source", "outcome"})

	feedAuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ip2node_feed_auth_failures_total",
		Help: "The total number of feed fetches rejected with 401 or 403",
	})
)

// Client fetches feed documents from the configured sources. Every request
// carries the fixed credential header set the upstream community APIs
// expect.
type Client struct {
	client    *http.Client
	apiKey    string
	apiSecret string
	xsrfToken string
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		xsrfToken: cfg.XSRFToken,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 5 * time.Second,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Fetch issues a single bounded-timeout request against one source and
// returns the raw JSON document. Any failure resolves to ok == false after
// being logged; a broken source never aborts the cycle it is part of.
func (c *Client) Fetch(ctx context.Context, source config.Source) (json.RawMessage, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URL, nil)
	if err != nil {
		log.WithFields(log.Fields{
			"source": source.Name,
			"error":  err,
		}).Error("Failed to build feed request")
		feedFetches.WithLabelValues(source.Name, "error").Inc()
		return nil, false
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "ip2node")
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("X-Api-Secret", c.apiSecret)
	req.Header.Set("X-Xsrf-Token", c.xsrfToken)

	resp, err := c.client.Do(req)
	if err != nil {
		log.WithFields(log.Fields{
			"source": source.Name,
			"error":  err,
		}).Warn("Feed fetch failed")
		feedFetches.WithLabelValues(source.Name, "error").Inc()
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		log.WithFields(log.Fields{
			"source": source.Name,
			"status": resp.StatusCode,
		}).Error("Feed source rejected credentials")
		feedAuthFailures.Inc()
		feedFetches.WithLabelValues(source.Name, "auth").Inc()
		return nil, false
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.WithFields(log.Fields{
			"source": source.Name,
			"status": resp.StatusCode,
		}).Warn("Feed source returned non-2xx status")
		feedFetches.WithLabelValues(source.Name, "error").Inc()
		return nil, false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.WithFields(log.Fields{
			"source": source.Name,
			"error":  err,
		}).Warn("Failed to read feed response body")
		feedFetches.WithLabelValues(source.Name, "error").Inc()
		return nil, false
	}

	if !json.Valid(body) {
		log.WithFields(log.Fields{
			"source": source.Name,
		}).Warn("Feed source returned malformed JSON")
		feedFetches.WithLabelValues(source.Name, "error").Inc()
		return nil, false
	}

	feedFetches.WithLabelValues(source.Name, "ok").Inc()
	return json.RawMessage(body), true
}
