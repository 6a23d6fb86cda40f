package speech

import "time"

// Artifact is one finished piece of synthesized audio.
type Artifact struct {
	Audio       []byte `json:"-"`
	ContentType string `json:"content_type"` // "audio/mpeg" or "audio/wav"
	Provider    string `json:"provider"`     // adapter that produced it
}

// CacheEntry is the immutable index record for a stored artifact. Ref points
// into the blob store (path or URL); the entry itself is write-once.
type CacheEntry struct {
	Hash        string    `json:"hash"`
	Ref         string    `json:"ref"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Provider    string    `json:"provider"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"` // zero = never
}

// Expired reports whether the entry is past its optional expiry.
func (e CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}
