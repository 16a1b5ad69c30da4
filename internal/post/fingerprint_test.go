package post_test

import (
	"context"
	"testing"

	"github.com/jfk9w-go/flu"
	"github.com/stretchr/testify/assert"

	"github.com/jfk9w/sharebot/internal/media"
	"github.com/jfk9w/sharebot/internal/post"
)

func pendingRef(t *testing.T) *media.Ref {
	t.Helper()
	return media.Pending(func(ctx context.Context) (flu.File, error) {
		t.Fatal("fingerprint must not resolve media")
		return "", nil
	})
}

func newResult(video *media.Ref) *post.ParseResult {
	return &post.ParseResult{
		Platform:  post.Platform{Name: "douyin", DisplayName: "抖音"},
		Author:    &post.Author{Name: "author"},
		Title:     "title",
		Timestamp: 1700000000,
		URL:       "https://www.douyin.com/video/123",
		Contents: []post.Content{
			post.VideoContent{Media: video, Duration: 12.5},
		},
	}
}

func TestFingerprint_IndependentOfResolutionState(t *testing.T) {
	pending := newResult(pendingRef(t))
	resolved := newResult(media.Resolved("video.mp4"))

	assert.Equal(t, pending.Fingerprint(), resolved.Fingerprint())
	assert.Len(t, pending.Fingerprint(), 16)
}

func TestFingerprint_Memoized(t *testing.T) {
	result := newResult(pendingRef(t))
	assert.Equal(t, result.Fingerprint(), result.Fingerprint())
}

func TestFingerprint_SensitiveToMetadata(t *testing.T) {
	base := newResult(media.Resolved("video.mp4"))

	differentDuration := newResult(media.Resolved("video.mp4"))
	differentDuration.Contents = []post.Content{
		post.VideoContent{Media: media.Resolved("video.mp4"), Duration: 13},
	}

	differentPlatform := newResult(media.Resolved("video.mp4"))
	differentPlatform.Platform = post.Platform{Name: "instagram"}

	differentCount := newResult(media.Resolved("video.mp4"))
	differentCount.Contents = append(differentCount.Contents,
		post.ImageContent{Media: media.Resolved("image.jpg")})

	assert.NotEqual(t, base.Fingerprint(), differentDuration.Fingerprint())
	assert.NotEqual(t, base.Fingerprint(), differentPlatform.Fingerprint())
	assert.NotEqual(t, base.Fingerprint(), differentCount.Fingerprint())
}

func TestFingerprint_Repost(t *testing.T) {
	base := newResult(media.Resolved("video.mp4"))

	repost := newResult(media.Resolved("video.mp4"))
	repost.Repost = &post.ParseResult{
		Platform: post.Platform{Name: "instagram"},
		URL:      "https://www.instagram.com/p/abc/",
	}

	otherRepost := newResult(media.Resolved("video.mp4"))
	otherRepost.Repost = &post.ParseResult{
		Platform: post.Platform{Name: "instagram"},
		URL:      "https://www.instagram.com/p/def/",
	}

	assert.NotEqual(t, base.Fingerprint(), repost.Fingerprint())
	assert.NotEqual(t, repost.Fingerprint(), otherRepost.Fingerprint())
}

func TestSelect(t *testing.T) {
	result := newResult(media.Resolved("video.mp4"))
	result.Contents = append(result.Contents, post.ImageContent{Media: media.Resolved("image.jpg")})

	videos := post.Select[post.VideoContent](result)
	images := post.Select[post.ImageContent](result)

	assert.Len(t, videos, 1)
	assert.Equal(t, 12.5, videos[0].Duration)
	assert.Len(t, images, 1)
	assert.Nil(t, post.Select[post.AudioContent](result))
}
