package media

import (
	"github.com/jfk9w-go/flu"
	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Muxer merges separate video and audio streams into a single container.
type Muxer interface {
	Mux(video, audio, output flu.File) error
}

// FFmpegMuxer performs a stream copy merge.
// Requires ffmpeg to be present in $PATH.
type FFmpegMuxer struct{}

func (FFmpegMuxer) Mux(video, audio, output flu.File) error {
	streams := []*ffmpeg.Stream{
		ffmpeg.Input(video.String()),
		ffmpeg.Input(audio.String()),
	}

	if err := ffmpeg.Output(streams, output.String(), ffmpeg.KwArgs{"c": "copy"}).
		OverWriteOutput().
		Run(); err != nil {
		return errors.Wrap(err, "mux streams")
	}

	return nil
}
