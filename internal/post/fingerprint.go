package post

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"strconv"
)

// Fingerprint returns a short stable digest of the result's structural
// metadata: platform, url, timestamp, author name, content count and the
// per-content scalars, plus the nested repost fingerprint. Media references
// are never touched, so the value is the same whether or not any media
// has been downloaded. The digest is computed once and cached.
func (r *ParseResult) Fingerprint() string {
	r.fingerprintOnce.Do(func() { r.fingerprint = fingerprint(r) })
	return r.fingerprint
}

func fingerprint(r *ParseResult) string {
	digest := md5.New()
	add := func(value string) {
		_, _ = io.WriteString(digest, value)
		_, _ = digest.Write([]byte{'|'})
	}

	add(r.Platform.Name)
	add(r.URL)
	if r.Timestamp != 0 {
		add(strconv.FormatInt(r.Timestamp, 10))
	} else {
		add("")
	}

	if r.Author != nil {
		add(r.Author.Name)
	} else {
		add("")
	}

	add(strconv.Itoa(len(r.Contents)))
	for _, content := range r.Contents {
		add(string(content.Type()))
		content.hash(add)
	}

	if r.Repost != nil {
		add(r.Repost.Fingerprint())
	} else {
		add("")
	}

	return hex.EncodeToString(digest.Sum(nil)[:8])
}
