package feed

import (
	"bytes"
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/Riotcoke123/IP2Node/models"
)

// listKeys is the fixed probe order for documents that wrap their post list
// in an object. The order is a compatibility contract with the upstream
// APIs: the first key holding an array wins.
var listKeys = []string{"posts", "data", "items", "results", "threads", "newPosts", "hotPosts"}

// Flatten turns one fetched document into candidate posts. A bare array is
// used directly; an object is probed for the first known list-bearing key.
// A document exposing neither contributes zero candidates.
func Flatten(doc json.RawMessage) []models.CandidatePost {
	trimmed := bytes.TrimSpace(doc)
	if len(trimmed) == 0 {
		return nil
	}

	if trimmed[0] == '[' {
		return decodePosts(trimmed)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil
	}

	for _, key := range listKeys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		value := bytes.TrimSpace(raw)
		if len(value) == 0 || value[0] != '[' {
			continue
		}
		return decodePosts(value)
	}

	return nil
}

// decodePosts unmarshals each array element on its own, so one malformed
// post does not take its well-formed siblings down with it.
func decodePosts(data []byte) []models.CandidatePost {
	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil
	}

	posts := make([]models.CandidatePost, 0, len(elements))
	skipped := 0
	for _, element := range elements {
		var post models.CandidatePost
		if err := json.Unmarshal(element, &post); err != nil {
			skipped++
			continue
		}
		posts = append(posts, post)
	}

	if skipped > 0 {
		log.WithFields(log.Fields{
			"skipped": skipped,
			"kept":    len(posts),
		}).Warn("Skipped malformed posts in feed document")
	}
	return posts
}
