package pipeline

import (
	"net/url"
	"path"
	"strings"

	"github.com/samber/lo"

	"github.com/Riotcoke123/IP2Node/models"
)

var (
	videoExtensions = []string{".mp4"}
	imageExtensions = []string{".jpg", ".jpeg", ".gif", ".png", ".webp"}
)

// mediaTypeForLink classifies a candidate link by the extension of its URL
// path. Links that do not parse or carry an unsupported extension are not
// media posts and never enter the relay.
func mediaTypeForLink(link string) (models.MediaType, bool) {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return "", false
	}

	ext := strings.ToLower(path.Ext(u.Path))
	switch {
	case lo.Contains(videoExtensions, ext):
		return models.MediaTypeVideo, true
	case lo.Contains(imageExtensions, ext):
		return models.MediaTypeImage, true
	}

	return "", false
}

// prepare validates one candidate against the in-memory identity set and
// returns the record skeleton to relay. Malformed or duplicate candidates
// are skipped silently; they are expected noise, not errors.
func prepare(post models.CandidatePost, seen map[models.RecordKey]struct{}) (models.Record, bool) {
	title := strings.TrimSpace(post.Title)
	author := strings.TrimSpace(post.Author)
	link := strings.TrimSpace(post.Link)

	if title == "" || author == "" || link == "" {
		return models.Record{}, false
	}

	mediaType, ok := mediaTypeForLink(link)
	if !ok {
		return models.Record{}, false
	}

	if _, dup := seen[models.NewRecordKey(title, author)]; dup {
		return models.Record{}, false
	}

	return models.Record{
		Title:       title,
		Author:      author,
		OriginalUrl: link,
		MediaType:   mediaType,
	}, true
}
