package pipeline_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Riotcoke123/IP2Node/config"
	"github.com/Riotcoke123/IP2Node/feed"
	"github.com/Riotcoke123/IP2Node/models"
	"github.com/Riotcoke123/IP2Node/pipeline"
	"github.com/Riotcoke123/IP2Node/relay"
	"github.com/Riotcoke123/IP2Node/store"
)

// uploadServer accepts any multipart upload and reports a fixed relay URL.
// It counts how many uploads it saw.
func uploadServer(t *testing.T, relayURL string, calls *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		if calls != nil {
			*calls++
		}
		fmt.Fprintf(w, `{"success":true,"files":[{"url":%q}]}`, relayURL)
	}))
}

func mediaServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("media bytes"))
	}))
}

func newCoordinator(t *testing.T, uploadURL string, events chan<- models.RecordEvent, sourceURLs ...string) (*pipeline.Coordinator, *store.Store) {
	t.Helper()

	cfg := &config.Config{
		APIKey:         "k",
		APISecret:      "s",
		XSRFToken:      "x",
		UploadURL:      uploadURL,
		StorePath:      filepath.Join(t.TempDir(), "store.json"),
		RequestTimeout: 2 * time.Second,
		UploadTimeout:  5 * time.Second,
	}
	for i, sourceURL := range sourceURLs {
		cfg.Sources = append(cfg.Sources, config.Source{Name: fmt.Sprintf("source-%d", i), URL: sourceURL})
	}

	st := store.New(cfg.StorePath)
	return pipeline.New(cfg, st, feed.NewClient(cfg), relay.New(cfg), events), st
}

func TestCycleRelaysNewPost(t *testing.T) {
	media := mediaServer(t)
	defer media.Close()
	mediaURL := media.URL + "/y.png"

	upload := uploadServer(t, "https://relay/z.png", nil)
	defer upload.Close()

	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `[{"author":"a","title":"t1","link":%q}]`, mediaURL)
	}))
	defer source.Close()

	events := make(chan models.RecordEvent, 10)
	coordinator, st := newCoordinator(t, upload.URL, events, source.URL)

	result := coordinator.RunCycle(context.Background())

	assert.Equal(t, models.CycleResult{
		Success:               true,
		NewItemsAdded:         1,
		TotalItemsInFile:      1,
		PostsCheckedThisCycle: 1,
	}, result)

	records := st.Load()
	require.Len(t, records, 1)
	assert.Equal(t, models.Record{
		Title:       "t1",
		Author:      "a",
		RelayUrl:    "https://relay/z.png",
		OriginalUrl: mediaURL,
		MediaType:   models.MediaTypeImage,
	}, records[0])

	select {
	case event := <-events:
		assert.Equal(t, records[0], event.Record)
	default:
		t.Fatal("expected a record event after the commit")
	}
}

func TestSecondCycleAddsNothing(t *testing.T) {
	media := mediaServer(t)
	defer media.Close()

	uploads := 0
	upload := uploadServer(t, "https://relay/z.png", &uploads)
	defer upload.Close()

	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `[{"author":"a","title":"t1","link":%q}]`, media.URL+"/y.png")
	}))
	defer source.Close()

	coordinator, _ := newCoordinator(t, upload.URL, nil, source.URL)

	first := coordinator.RunCycle(context.Background())
	require.Equal(t, 1, first.NewItemsAdded)

	second := coordinator.RunCycle(context.Background())
	assert.True(t, second.Success)
	assert.Equal(t, 0, second.NewItemsAdded)
	assert.Equal(t, 1, second.TotalItemsInFile)
	assert.Equal(t, 1, second.PostsCheckedThisCycle)
	assert.Equal(t, 1, uploads, "an already processed post must not be relayed again")
}

func TestDuplicateWithinCycle(t *testing.T) {
	media := mediaServer(t)
	defer media.Close()

	uploads := 0
	upload := uploadServer(t, "https://relay/z.png", &uploads)
	defer upload.Close()

	// Same identity key twice in one document, different links
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `[
			{"author":"a","title":"t1","link":%q},
			{"author":" a ","title":" t1 ","link":%q}
		]`, media.URL+"/y.png", media.URL+"/other.png")
	}))
	defer source.Close()

	coordinator, st := newCoordinator(t, upload.URL, nil, source.URL)

	result := coordinator.RunCycle(context.Background())

	assert.Equal(t, 1, result.NewItemsAdded)
	assert.Equal(t, 2, result.PostsCheckedThisCycle)
	assert.Equal(t, 1, uploads)
	assert.Len(t, st.Load(), 1)
}

func TestIneligiblePostsSkipped(t *testing.T) {
	uploads := 0
	upload := uploadServer(t, "https://relay/z.png", &uploads)
	defer upload.Close()

	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[
			{"author":"a","title":"t1","link":"https://x/notes.txt"},
			{"title":"t2","link":"https://x/y.png"},
			{"author":"c","title":"t3","link":"not a url"}
		]`)
	}))
	defer source.Close()

	coordinator, st := newCoordinator(t, upload.URL, nil, source.URL)

	result := coordinator.RunCycle(context.Background())

	assert.True(t, result.Success)
	assert.Equal(t, 0, result.NewItemsAdded)
	assert.Equal(t, 3, result.PostsCheckedThisCycle)
	assert.Equal(t, 0, uploads)
	assert.Empty(t, st.Load())
}

func TestFailedRelayIsRetriedNextCycle(t *testing.T) {
	media := mediaServer(t)
	defer media.Close()

	// First cycle: upload endpoint rejects. Second cycle: it works.
	rejecting := true
	upload := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		if rejecting {
			fmt.Fprint(w, `{"success":false,"files":[]}`)
			return
		}
		fmt.Fprint(w, `{"success":true,"files":[{"url":"https://relay/z.png"}]}`)
	}))
	defer upload.Close()

	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `[{"author":"a","title":"t1","link":%q}]`, media.URL+"/y.png")
	}))
	defer source.Close()

	coordinator, st := newCoordinator(t, upload.URL, nil, source.URL)

	first := coordinator.RunCycle(context.Background())
	assert.True(t, first.Success)
	assert.Equal(t, 0, first.NewItemsAdded)
	assert.Empty(t, st.Load(), "a failed relay must not be persisted")

	rejecting = false
	second := coordinator.RunCycle(context.Background())
	assert.Equal(t, 1, second.NewItemsAdded)
	assert.Len(t, st.Load(), 1)
}

func TestSourceFailureTolerated(t *testing.T) {
	media := mediaServer(t)
	defer media.Close()

	upload := uploadServer(t, "https://relay/z.png", nil)
	defer upload.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer broken.Close()

	working := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"data":[{"author":"a","title":"t1","link":%q}]}`, media.URL+"/y.png")
	}))
	defer working.Close()

	coordinator, _ := newCoordinator(t, upload.URL, nil, broken.URL, working.URL)

	result := coordinator.RunCycle(context.Background())

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.NewItemsAdded)
	assert.Equal(t, 1, result.PostsCheckedThisCycle)
}

func TestOverlapGuard(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	var calls int32
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Only the first fetch blocks; later cycles get an empty feed
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
			<-release
		}
		fmt.Fprint(w, `[]`)
	}))
	defer source.Close()

	upload := uploadServer(t, "https://relay/z.png", nil)
	defer upload.Close()

	coordinator, _ := newCoordinator(t, upload.URL, nil, source.URL)

	firstResult := make(chan models.CycleResult, 1)
	go func() {
		firstResult <- coordinator.RunCycle(context.Background())
	}()

	<-started
	second := coordinator.RunCycle(context.Background())
	assert.Equal(t, models.CycleResult{InProgress: true}, second)

	close(release)
	first := <-firstResult
	assert.True(t, first.Success)
	assert.False(t, first.InProgress)

	// Guard released again after completion
	third := coordinator.RunCycle(context.Background())
	assert.True(t, third.Success)
}

func TestCyclePanicIsContained(t *testing.T) {
	cfg := &config.Config{
		APIKey:         "k",
		APISecret:      "s",
		XSRFToken:      "x",
		RequestTimeout: time.Second,
		UploadTimeout:  time.Second,
	}

	// A nil store makes the very first step of the cycle panic
	coordinator := pipeline.New(cfg, nil, feed.NewClient(cfg), relay.New(cfg), nil)

	result := coordinator.RunCycle(context.Background())
	assert.Equal(t, models.CycleResult{}, result)

	// The guard must be released after the panic: the next call runs a
	// fresh cycle instead of reporting one in progress.
	second := coordinator.RunCycle(context.Background())
	assert.False(t, second.InProgress)
	assert.False(t, second.Success)
}

func TestCycleSaveFailureReportsZeroCounts(t *testing.T) {
	media := mediaServer(t)
	defer media.Close()

	upload := uploadServer(t, "https://relay/z.png", nil)
	defer upload.Close()

	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `[{"author":"a","title":"t1","link":%q}]`, media.URL+"/y.png")
	}))
	defer source.Close()

	// The store path sits in a directory that does not exist, so the
	// commit at the end of the cycle fails.
	cfg := &config.Config{
		APIKey:         "k",
		APISecret:      "s",
		XSRFToken:      "x",
		UploadURL:      upload.URL,
		StorePath:      filepath.Join(t.TempDir(), "missing", "store.json"),
		RequestTimeout: 2 * time.Second,
		UploadTimeout:  5 * time.Second,
		Sources:        []config.Source{{Name: "source-0", URL: source.URL}},
	}

	st := store.New(cfg.StorePath)
	coordinator := pipeline.New(cfg, st, feed.NewClient(cfg), relay.New(cfg), nil)

	result := coordinator.RunCycle(context.Background())
	assert.Equal(t, models.CycleResult{}, result)
	assert.Empty(t, st.Load())
}
