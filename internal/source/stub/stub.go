// Package stub is an in-memory fake of internal/source, used by tests and
// local development so a channel can be exercised without a live
// microblog or feed backend.
package stub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/postalsys/stegochannel/internal/source"
)

// Feed is a fake shared timeline one or more stub sources/sinks publish to
// and list from.
type Feed struct {
	mu    sync.Mutex
	kind  source.Kind
	posts []source.Post
	seq   int
}

// NewFeed returns an empty Feed of the given kind.
func NewFeed(kind source.Kind) *Feed {
	return &Feed{kind: kind}
}

// Source returns a PostSource view of the feed scoped to a single author.
func (f *Feed) Source() source.PostSource {
	return &feedSource{feed: f}
}

// Sink returns a PostSink that publishes as author into the feed.
func (f *Feed) Sink(author string) source.PostSink {
	return &feedSink{feed: f, author: author}
}

func (f *Feed) append(author, text string, hasMedia bool) source.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	post := source.Post{
		ID:        fmt.Sprintf("stub-%s-%d", f.kind, f.seq),
		Source:    f.kind,
		Author:    author,
		Text:      text,
		HasMedia:  hasMedia,
		CreatedAt: time.Now(),
	}
	f.posts = append(f.posts, post)
	return post
}

func (f *Feed) listSince(author string, since time.Time) []source.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []source.Post
	for _, p := range f.posts {
		if p.Author == author && !p.CreatedAt.Before(since) {
			out = append(out, p)
		}
	}
	return out
}

type feedSource struct{ feed *Feed }

func (s *feedSource) Kind() source.Kind { return s.feed.kind }

func (s *feedSource) ListRecentPosts(ctx context.Context, author string, since time.Time) ([]source.Post, error) {
	return s.feed.listSince(author, since), nil
}

type feedSink struct {
	feed   *Feed
	author string
}

func (s *feedSink) Kind() source.Kind { return s.feed.kind }

func (s *feedSink) Publish(ctx context.Context, text string, hasMedia bool) (source.Post, error) {
	return s.feed.append(s.author, text, hasMedia), nil
}
