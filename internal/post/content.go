package post

import (
	"fmt"
	"strconv"

	"github.com/jfk9w-go/flu"

	"github.com/jfk9w/sharebot/internal/media"
)

type Type string

const (
	Image    Type = "image"
	Video    Type = "video"
	Audio    Type = "audio"
	File     Type = "file"
	Dynamic  Type = "dynamic"
	Graphics Type = "graphics"
)

// Content is a single media entry of a parsed post.
// The set of implementations is closed.
type Content interface {
	Type() Type

	// Ref returns the primary media reference of this entry, or nil.
	Ref() *media.Ref

	// hash feeds the structural metadata of this entry into a fingerprint.
	hash(add func(value string))
}

type ImageContent struct {
	Media *media.Ref
}

func (c ImageContent) Type() Type           { return Image }
func (c ImageContent) Ref() *media.Ref      { return c.Media }
func (c ImageContent) hash(func(v string)) {}

type VideoContent struct {
	Media    *media.Ref
	Cover    *media.Ref
	Duration float64
}

func (c VideoContent) Type() Type      { return Video }
func (c VideoContent) Ref() *media.Ref { return c.Media }

func (c VideoContent) hash(add func(v string)) {
	add(strconv.FormatFloat(c.Duration, 'f', -1, 64))
}

// DisplayDuration formats the duration as mm:ss.
func (c VideoContent) DisplayDuration() string {
	seconds := int(c.Duration)
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

type AudioContent struct {
	Media    *media.Ref
	Duration float64
}

func (c AudioContent) Type() Type      { return Audio }
func (c AudioContent) Ref() *media.Ref { return c.Media }

func (c AudioContent) hash(add func(v string)) {
	add(strconv.FormatFloat(c.Duration, 'f', -1, 64))
}

type FileContent struct {
	Media *media.Ref
	Name  string
}

func (c FileContent) Type() Type              { return File }
func (c FileContent) Ref() *media.Ref         { return c.Media }
func (c FileContent) hash(add func(v string)) { add(c.Name) }

// DynamicContent is a short animated entry (a live photo or similar).
// GIF may point to a converted animation next to the primary video.
type DynamicContent struct {
	Media *media.Ref
	GIF   flu.File
}

func (c DynamicContent) Type() Type           { return Dynamic }
func (c DynamicContent) Ref() *media.Ref      { return c.Media }
func (c DynamicContent) hash(func(v string)) {}

type GraphicsContent struct {
	Media *media.Ref
	Text  string
	Alt   string
}

func (c GraphicsContent) Type() Type      { return Graphics }
func (c GraphicsContent) Ref() *media.Ref { return c.Media }

func (c GraphicsContent) hash(add func(v string)) {
	add(c.Text)
	add(c.Alt)
}
