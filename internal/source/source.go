// Package source defines the tagged-union interfaces a channel polls
// posts from and publishes signal posts to. Concrete adapters (a
// microblog API client, a feed reader) live outside this module; the
// stub subpackage provides an in-memory fake for tests.
package source

import (
	"context"
	"time"
)

// Kind names the kind of platform a Post came from or a Sink publishes
// to. It is a tagged union rather than an interface hierarchy because the
// protocol treats every kind identically — only the adapter differs.
type Kind string

const (
	KindMicroblog Kind = "microblog"
	KindFeed      Kind = "feed"
)

// Post is the minimal view of a published post the selection and feature
// extraction logic needs, independent of which platform it came from.
type Post struct {
	ID        string
	Source    Kind
	Author    string
	Text      string
	HasMedia  bool
	CreatedAt time.Time
}

// PostSource lists recent posts from an author, newest-or-oldest
// unspecified — callers sort by CreatedAt (and ID as a tie-break)
// themselves.
type PostSource interface {
	Kind() Kind
	ListRecentPosts(ctx context.Context, author string, since time.Time) ([]Post, error)
}

// PostSink publishes a post as the sending party of a channel.
type PostSink interface {
	Kind() Kind
	Publish(ctx context.Context, text string, hasMedia bool) (Post, error)
}
