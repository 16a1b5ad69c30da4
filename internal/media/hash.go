package media

import (
	"context"
	"crypto/md5"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/jfk9w-go/flu"
	"github.com/pkg/errors"
	"golang.org/x/image/bmp"
)

// Hash is a downloaded blob digest used for duplicate detection.
// Images get a perceptual difference hash, other blobs get md5.
type Hash struct {
	URL        string    `gorm:"not null"`
	Type       string    `gorm:"primaryKey;column:hash_type"`
	Value      string    `gorm:"primaryKey;column:hash"`
	FirstSeen  time.Time `gorm:"not null"`
	LastSeen   time.Time `gorm:"not null"`
	Collisions int64     `gorm:"not null"`
}

func (h *Hash) TableName() string {
	return "blob"
}

// HashStorage records blob hashes.
// Check returns true iff the hash has not been seen before.
type HashStorage interface {
	Check(ctx context.Context, hash *Hash) (bool, error)
}

type readImageFunc func(io.Reader) (image.Image, error)

var imageTypes = map[string]readImageFunc{
	"image/jpeg": jpeg.Decode,
	"image/png":  png.Decode,
	"image/bmp":  bmp.Decode,
}

func hashBlob(blob flu.Input, mimeType string, hash *Hash) error {
	if readImage, ok := imageTypes[mimeType]; ok {
		return hashImage(blob, hash, readImage)
	}

	return hashAny(blob, hash)
}

func hashImage(blob flu.Input, hash *Hash, readImage readImageFunc) error {
	reader, err := blob.Reader()
	if err != nil {
		return errors.Wrap(err, "open blob")
	}

	defer flu.CloseQuietly(reader)
	img, err := readImage(reader)
	if err != nil {
		return errors.Wrap(err, "read image")
	}

	dhash, err := goimagehash.DifferenceHash(img)
	if err != nil {
		return errors.Wrap(err, "get diff hash")
	}

	hash.Type = "dhash"
	hash.Value = fmt.Sprintf("%x", dhash.GetHash())
	return nil
}

func hashAny(blob flu.Input, hash *Hash) error {
	md5 := md5.New()
	if _, err := flu.Copy(blob, flu.IO{W: md5}); err != nil {
		return errors.Wrap(err, "get md5 hash")
	}

	hash.Type = "md5"
	hash.Value = fmt.Sprintf("%x", md5.Sum(nil))
	return nil
}
