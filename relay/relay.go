package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/Riotcoke123/IP2Node/config"
)

var (
	relayUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ip2node_relay_uploads_total",
		Help: "The total number of media relay attempts by outcome",
	}, []string{"outcome"})

	relayDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ip2node_relay_duration_seconds",
		Help:    "Duration of complete download-and-reupload transfers",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})
)

const (
	downloadRetryInterval = 250 * time.Millisecond
	downloadRetryBudget   = 10 * time.Second
)

var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".png":  "image/png",
	".webp": "image/webp",
}

// uploadResponse is the pomf-style answer from the re-hosting endpoint.
type uploadResponse struct {
	Success bool `json:"success"`
	Files   []struct {
		Url string `json:"url"`
	} `json:"files"`
}

// Relayer moves one media file from its source URL to the re-hosting
// service. The file is streamed straight from the download response into
// the multipart upload body, so it is never buffered in memory as a whole.
type Relayer struct {
	downloads *http.Client
	uploads   *http.Client
	uploadURL string
}

func New(cfg *config.Config) *Relayer {
	return &Relayer{
		uploadURL: cfg.UploadURL,
		// The download body streams into the upload for as long as the
		// transfer takes, so the body read must not sit under the short
		// request timeout. Only connecting and waiting for headers do; the
		// transfer as a whole is bounded by the upload budget and ctx.
		downloads: &http.Client{
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: cfg.RequestTimeout}).DialContext,
				TLSHandshakeTimeout:   cfg.RequestTimeout,
				ResponseHeaderTimeout: cfg.RequestTimeout,
			},
		},
		// Uploads move whole video files, so they get their own longer budget
		uploads: &http.Client{Timeout: cfg.UploadTimeout},
	}
}

// Relay downloads the media at mediaURL and forwards it to the re-hosting
// endpoint. Returns the public URL the host assigned, or ok == false on any
// failure. A failed relay has no side effects; the post simply stays absent
// from the store and is visible again on the next cycle.
func (r *Relayer) Relay(ctx context.Context, mediaURL string) (string, bool) {
	start := time.Now()

	resp, ok := r.download(ctx, mediaURL)
	if !ok {
		relayUploads.WithLabelValues("download_error").Inc()
		return "", false
	}
	defer resp.Body.Close()

	filename := filenameFor(mediaURL)
	contentType := contentTypeFor(filename)

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files[]"; filename=%q`, filename))
		header.Set("Content-Type", contentType)

		part, err := writer.CreatePart(header)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, resp.Body); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(writer.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.uploadURL, pr)
	if err != nil {
		log.WithFields(log.Fields{
			"url":   r.uploadURL,
			"error": err,
		}).Error("Failed to build upload request")
		relayUploads.WithLabelValues("upload_error").Inc()
		return "", false
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	uploadResp, err := r.uploads.Do(req)
	if err != nil {
		log.WithFields(log.Fields{
			"media": mediaURL,
			"error": err,
		}).Warn("Media upload failed")
		relayUploads.WithLabelValues("upload_error").Inc()
		return "", false
	}
	defer uploadResp.Body.Close()

	if uploadResp.StatusCode < 200 || uploadResp.StatusCode > 299 {
		log.WithFields(log.Fields{
			"media":  mediaURL,
			"status": uploadResp.StatusCode,
		}).Warn("Upload endpoint returned non-2xx status")
		relayUploads.WithLabelValues("upload_error").Inc()
		return "", false
	}

	var parsed uploadResponse
	if err := json.NewDecoder(uploadResp.Body).Decode(&parsed); err != nil {
		log.WithFields(log.Fields{
			"media": mediaURL,
			"error": err,
		}).Warn("Failed to decode upload response")
		relayUploads.WithLabelValues("upload_error").Inc()
		return "", false
	}

	if !parsed.Success || len(parsed.Files) == 0 || parsed.Files[0].Url == "" {
		log.WithFields(log.Fields{
			"media":   mediaURL,
			"success": parsed.Success,
			"files":   len(parsed.Files),
		}).Warn("Upload endpoint reported failure")
		relayUploads.WithLabelValues("rejected").Inc()
		return "", false
	}

	relayUploads.WithLabelValues("ok").Inc()
	relayDuration.Observe(time.Since(start).Seconds())

	log.WithFields(log.Fields{
		"media": mediaURL,
		"relay": parsed.Files[0].Url,
	}).Info("Relayed media file")

	return parsed.Files[0].Url, true
}

// download fetches the source media with a short retry budget for transient
// errors. Client errors from the source are permanent: a 404 today will be
// a 404 in 250ms too.
func (r *Relayer) download(ctx context.Context, mediaURL string) (*http.Response, bool) {
	var resp *http.Response

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		res, err := r.downloads.Do(req)
		if err != nil {
			return err
		}
		if res.StatusCode >= 500 {
			res.Body.Close()
			return fmt.Errorf("source returned status %d", res.StatusCode)
		}
		if res.StatusCode < 200 || res.StatusCode > 299 {
			res.Body.Close()
			return backoff.Permanent(fmt.Errorf("source returned status %d", res.StatusCode))
		}

		resp = res
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = downloadRetryInterval
	bo.MaxElapsedTime = downloadRetryBudget

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		log.WithFields(log.Fields{
			"media": mediaURL,
			"error": err,
		}).Warn("Media download failed")
		return nil, false
	}

	return resp, true
}

func filenameFor(mediaURL string) string {
	u, err := url.Parse(mediaURL)
	if err != nil {
		return "file"
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return "file"
	}
	return base
}

func contentTypeFor(filename string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(filename))]; ok {
		return ct
	}
	return "application/octet-stream"
}
