package transcode_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-media/pkg/simplemedia/transcode"
	"github.com/tendant/simple-media/pkg/simplemedia/transcode/transcodetest"
)

func argValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestVideoEncoder(t *testing.T) {
	runner := transcodetest.NewRunner()
	enc := transcode.NewVideoEncoder(runner, transcode.Settings{FFmpegPath: "/usr/bin/ffmpeg"})
	out := filepath.Join(t.TempDir(), "out")

	require.NoError(t, enc.Encode(context.Background(), "/in/clip.mp4", out))

	calls := runner.Calls()
	require.Len(t, calls, 2)

	hls := calls[0]
	assert.Equal(t, "/usr/bin/ffmpeg", hls.Name)
	assert.Equal(t, "/in/clip.mp4", argValue(hls.Args, "-i"))
	assert.Equal(t, "scale=-2:720", argValue(hls.Args, "-vf"))
	assert.Equal(t, "libx264", argValue(hls.Args, "-c:v"))
	assert.Equal(t, "2500k", argValue(hls.Args, "-b:v"))
	assert.Equal(t, "aac", argValue(hls.Args, "-c:a"))
	assert.Equal(t, "128k", argValue(hls.Args, "-b:a"))
	assert.Equal(t, "hls", argValue(hls.Args, "-f"))
	assert.Equal(t, "6", argValue(hls.Args, "-hls_time"))
	assert.Equal(t, "0", argValue(hls.Args, "-hls_list_size"))
	assert.Equal(t, filepath.Join(out, "segment_%03d.ts"), argValue(hls.Args, "-hls_segment_filename"))
	assert.Equal(t, filepath.Join(out, "index.m3u8"), hls.Args[len(hls.Args)-1])

	thumb := calls[1]
	assert.Equal(t, "00:00:01", argValue(thumb.Args, "-ss"))
	assert.Equal(t, "1", argValue(thumb.Args, "-frames:v"))
	assert.Equal(t, filepath.Join(out, "thumbnail.jpg"), thumb.Args[len(thumb.Args)-1])

	assert.ElementsMatch(t, []string{"index.m3u8", "segment_000.ts", "segment_001.ts", "thumbnail.jpg"}, listDir(t, out))
}

func TestAudioEncoder(t *testing.T) {
	runner := transcodetest.NewRunner()
	enc := transcode.NewAudioEncoder(runner, transcode.DefaultSettings())
	out := filepath.Join(t.TempDir(), "out")

	require.NoError(t, enc.Encode(context.Background(), "/in/a.mp3", out))

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Args, "-vn")
	assert.Equal(t, "128k", argValue(calls[0].Args, "-b:a"))
	assert.Empty(t, argValue(calls[0].Args, "-c:v"))
	assert.Equal(t, "6", argValue(calls[0].Args, "-hls_time"))
	assert.Contains(t, listDir(t, out), "index.m3u8")
}

func TestImageEncoder(t *testing.T) {
	runner := transcodetest.NewRunner()
	enc := transcode.NewImageEncoder(runner, transcode.Settings{ImageHeight: 1080})
	out := filepath.Join(t.TempDir(), "out")

	require.NoError(t, enc.Encode(context.Background(), "/in/photo.png", out))

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "ffmpeg", calls[0].Name)
	assert.Equal(t, "scale=-2:1080", argValue(calls[0].Args, "-vf"))
	assert.Equal(t, "1", argValue(calls[0].Args, "-frames:v"))
	assert.Equal(t, []string{"image.jpg"}, listDir(t, out))
}

func TestEncoderFailureCarriesOutput(t *testing.T) {
	runner := transcodetest.NewRunner()
	runner.FailOn = "broken.mp4"
	enc := transcode.NewVideoEncoder(runner, transcode.DefaultSettings())

	err := enc.Encode(context.Background(), "/in/broken.mp4", t.TempDir())
	require.Error(t, err)

	var ffErr *transcode.Error
	require.True(t, errors.As(err, &ffErr))
	assert.Equal(t, "hls video", ffErr.Step)
	assert.Contains(t, ffErr.Output, "Invalid data")
	assert.Len(t, runner.Calls(), 1, "thumbnail is not attempted after a failed encode")
}
