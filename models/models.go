package models

import "strings"

// MediaType tags what kind of media a record points at.
type MediaType string

const (
	MediaTypeVideo MediaType = "video"
	MediaTypeImage MediaType = "image"
)

// Record is a processed media post as persisted in the store file.
type Record struct {
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	RelayUrl    string    `json:"relayUrl"`
	OriginalUrl string    `json:"originalUrl"`
	MediaType   MediaType `json:"mediaType"`
}

// RecordKey is the deduplication identity of a record. Two posts with the
// same trimmed title and author count as the same post no matter which
// source they came from.
type RecordKey struct {
	Title  string
	Author string
}

func NewRecordKey(title string, author string) RecordKey {
	return RecordKey{
		Title:  strings.TrimSpace(title),
		Author: strings.TrimSpace(author),
	}
}

func (r Record) Key() RecordKey {
	return NewRecordKey(r.Title, r.Author)
}

// CandidatePost is a raw feed item before eligibility evaluation. It only
// lives for the duration of a single cycle.
type CandidatePost struct {
	Author string `json:"author"`
	Title  string `json:"title"`
	Link   string `json:"link"`
}

// CycleResult summarises one processing cycle for logs and the HTTP trigger.
type CycleResult struct {
	Success               bool `json:"success"`
	NewItemsAdded         int  `json:"newItemsAdded"`
	TotalItemsInFile      int  `json:"totalItemsInFile"`
	PostsCheckedThisCycle int  `json:"postsCheckedThisCycle"`
	InProgress            bool `json:"inProgress,omitempty"`
}

// RecordEvent fired when a new record is committed to the store.
type RecordEvent struct {
	Record Record
}
