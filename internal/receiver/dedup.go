package receiver

import (
	"encoding/hex"
	"time"

	"github.com/postalsys/stegochannel/internal/crypto"
	"github.com/postalsys/stegochannel/internal/source"
)

// dedupWindow bounds how long a dedup key is remembered; entries older
// than this are pruned so the processed-id set doesn't grow without
// bound across a long-lived channel.
const dedupWindow = 48 * time.Hour

// dedupKey derives the key a post is deduplicated under: the post id
// salted with its creation hour, so a post whose id a platform recycles
// (or that a source lists twice across two poll ticks) is only ever
// counted once per hour bucket, while two platform-distinct posts that
// happen to share an id in different hours are not conflated.
func dedupKey(post source.Post) string {
	bucket := post.CreatedAt.UTC().Format("2006-01-02T15")
	digest := crypto.SHA256([]byte(bucket), []byte(post.ID))
	return hex.EncodeToString(digest[:])
}

// pruneOlderThan removes dedup entries observed before cutoff, mutating
// seen in place.
func pruneOlderThan(seen map[string]int64, cutoff time.Time) {
	threshold := cutoff.Unix()
	for k, observedAt := range seen {
		if observedAt < threshold {
			delete(seen, k)
		}
	}
}
