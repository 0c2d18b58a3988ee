package feed_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Riotcoke123/IP2Node/feed"
)

func TestFlatten(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		expected int
	}{
		{
			name:     "bare array",
			doc:      `[{"author":"a","title":"t1","link":"https://x/y.png"}]`,
			expected: 1,
		},
		{
			name:     "object with data field",
			doc:      `{"data":[{"author":"a","title":"t1","link":"https://x/y.png"},{"author":"b","title":"t2","link":"https://x/z.mp4"}]}`,
			expected: 2,
		},
		{
			name:     "object with newPosts field",
			doc:      `{"newPosts":[{"author":"a","title":"t1","link":"https://x/y.png"}]}`,
			expected: 1,
		},
		{
			name:     "object with no known field",
			doc:      `{"stuff":[{"author":"a","title":"t1","link":"https://x/y.png"}]}`,
			expected: 0,
		},
		{
			name:     "empty array",
			doc:      `[]`,
			expected: 0,
		},
		{
			name:     "scalar document",
			doc:      `42`,
			expected: 0,
		},
		{
			name:     "null list value is not a sequence",
			doc:      `{"posts":null,"data":[{"author":"a","title":"t1","link":"https://x/y.png"}]}`,
			expected: 1,
		},
		{
			name:     "non-array list value is skipped in the probe",
			doc:      `{"posts":{"nested":true},"items":[{"author":"a","title":"t1","link":"https://x/y.png"}]}`,
			expected: 1,
		},
		{
			name:     "array of non-objects",
			doc:      `[1,2,3]`,
			expected: 0,
		},
		{
			name:     "malformed sibling does not drop the valid post",
			doc:      `[{"author":"a","title":"t1","link":"https://x/y.png"}, 123]`,
			expected: 1,
		},
		{
			name:     "wrongly typed field only skips that post",
			doc:      `[{"author":5,"title":"t1","link":"https://x/y.png"},{"author":"b","title":"t2","link":"https://x/z.mp4"}]`,
			expected: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			posts := feed.Flatten(json.RawMessage(tt.doc))
			assert.Len(t, posts, tt.expected)
		})
	}
}

func TestFlattenSkipsMalformedElements(t *testing.T) {
	doc := `{"posts":[{"author":"a","title":"t1","link":"https://x/y.png"},"oops",{"author":"b","title":"t2","link":"https://x/z.mp4"}]}`

	posts := feed.Flatten(json.RawMessage(doc))
	assert.Len(t, posts, 2)
	assert.Equal(t, "t1", posts[0].Title)
	assert.Equal(t, "t2", posts[1].Title)
}

func TestFlattenProbeOrder(t *testing.T) {
	// posts comes before data in the probe order, so it wins even when both
	// are present
	doc := `{
		"data": [{"author":"wrong","title":"wrong","link":"https://x/w.png"}],
		"posts": [{"author":"a","title":"t1","link":"https://x/y.png"}]
	}`

	posts := feed.Flatten(json.RawMessage(doc))
	assert.Len(t, posts, 1)
	assert.Equal(t, "t1", posts[0].Title)
}
