package post

import (
	"fmt"
	"sync"

	"github.com/jfk9w-go/flu"
	"golang.org/x/exp/utf8string"

	"github.com/jfk9w/sharebot/internal/media"
)

const maxHeaderLength = 64

// Platform identifies a supported social media platform.
type Platform struct {
	Name        string
	DisplayName string
}

func (p Platform) String() string {
	return p.Name
}

type Author struct {
	Name        string
	Avatar      *media.Ref
	Description string
}

// ParseResult is the unified representation of a parsed share link.
// Contents keep the source order of the platform payload.
// Repost, when present, is a complete nested result (never a cycle).
type ParseResult struct {
	Platform    Platform
	Author      *Author
	Title       string
	Text        string
	Timestamp   int64
	URL         string
	Contents    []Content
	Extra       map[string]string
	Repost      *ParseResult
	RenderImage flu.File

	fingerprint     string
	fingerprintOnce sync.Once
}

// Header returns a short display line for the result.
func (r *ParseResult) Header() string {
	header := r.Platform.DisplayName
	if r.Author != nil && r.Author.Name != "" {
		header += " @" + r.Author.Name
	}

	if title := trimTitle(r.Title); title != "" {
		header += " | " + title
	}

	return header
}

// Cover returns the cover of the first video entry, or nil.
func (r *ParseResult) Cover() *media.Ref {
	for _, content := range r.Contents {
		if video, ok := content.(VideoContent); ok && video.Cover != nil {
			return video.Cover
		}
	}

	return nil
}

func (r *ParseResult) String() string {
	str := fmt.Sprintf("[%s] %s (%d contents)", r.Platform.Name, r.Header(), len(r.Contents))
	if r.Repost != nil {
		str += " repost of " + r.Repost.String()
	}

	return str
}

// Select returns all contents of the given concrete type in source order.
func Select[T Content](r *ParseResult) []T {
	var selected []T
	for _, content := range r.Contents {
		if value, ok := content.(T); ok {
			selected = append(selected, value)
		}
	}

	return selected
}

func trimTitle(title string) string {
	value := utf8string.NewString(title)
	if value.RuneCount() > maxHeaderLength {
		return value.Slice(0, maxHeaderLength) + "…"
	}

	return title
}
