// Package transcode turns raw media files into streaming-ready artifacts by
// driving ffmpeg.
package transcode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Output file names written into the output directory.
const (
	PlaylistName  = "index.m3u8"
	SegmentName   = "segment_%03d.ts"
	ThumbnailName = "thumbnail.jpg"
	ImageName     = "image.jpg"
)

// Encoder writes the artifacts for one input file into outputDir.
type Encoder interface {
	Encode(ctx context.Context, inputPath, outputDir string) error
}

// Settings holds the ffmpeg parameters shared by the encoders.
type Settings struct {
	FFmpegPath     string
	VideoHeight    int
	VideoBitrate   string
	AudioBitrate   string
	SegmentSeconds int
	ImageHeight    int
	// ThumbnailAt is the timestamp of the frame used as the video thumbnail
	ThumbnailAt string
}

// DefaultSettings returns 720p HLS at 2500k video and 128k audio in 6s segments.
func DefaultSettings() Settings {
	return Settings{
		FFmpegPath:     "ffmpeg",
		VideoHeight:    720,
		VideoBitrate:   "2500k",
		AudioBitrate:   "128k",
		SegmentSeconds: 6,
		ImageHeight:    1080,
		ThumbnailAt:    "00:00:01",
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.FFmpegPath == "" {
		s.FFmpegPath = d.FFmpegPath
	}
	if s.VideoHeight <= 0 {
		s.VideoHeight = d.VideoHeight
	}
	if s.VideoBitrate == "" {
		s.VideoBitrate = d.VideoBitrate
	}
	if s.AudioBitrate == "" {
		s.AudioBitrate = d.AudioBitrate
	}
	if s.SegmentSeconds <= 0 {
		s.SegmentSeconds = d.SegmentSeconds
	}
	if s.ImageHeight <= 0 {
		s.ImageHeight = d.ImageHeight
	}
	if s.ThumbnailAt == "" {
		s.ThumbnailAt = d.ThumbnailAt
	}
	return s
}

// Error reports a failed ffmpeg invocation together with its output.
type Error struct {
	Step   string
	Output string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ffmpeg %s failed: %v: %s", e.Step, e.Err, e.Output)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// maxOutput bounds how much ffmpeg output is kept on an Error; the tail is the useful part.
const maxOutput = 2048

func run(ctx context.Context, runner Runner, settings Settings, step string, args []string) error {
	out, err := runner.Run(ctx, settings.FFmpegPath, args...)
	if err != nil {
		if len(out) > maxOutput {
			out = out[len(out)-maxOutput:]
		}
		return &Error{Step: step, Output: string(out), Err: err}
	}
	return nil
}

func hlsArgs(settings Settings, outputDir string) []string {
	return []string{
		"-f", "hls",
		"-hls_time", strconv.Itoa(settings.SegmentSeconds),
		"-hls_list_size", "0",
		"-hls_segment_filename", filepath.Join(outputDir, SegmentName),
		filepath.Join(outputDir, PlaylistName),
	}
}

func scaleFilter(height int) string {
	return fmt.Sprintf("scale=-2:%d", height)
}

// VideoEncoder produces a 720p HLS rendition and a thumbnail.
type VideoEncoder struct {
	runner   Runner
	settings Settings
}

func NewVideoEncoder(runner Runner, settings Settings) *VideoEncoder {
	return &VideoEncoder{runner: runner, settings: settings.withDefaults()}
}

func (e *VideoEncoder) Encode(ctx context.Context, inputPath, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	args := []string{
		"-y",
		"-i", inputPath,
		"-vf", scaleFilter(e.settings.VideoHeight),
		"-c:v", "libx264",
		"-b:v", e.settings.VideoBitrate,
		"-c:a", "aac",
		"-b:a", e.settings.AudioBitrate,
	}
	args = append(args, hlsArgs(e.settings, outputDir)...)
	if err := run(ctx, e.runner, e.settings, "hls video", args); err != nil {
		return err
	}

	thumbArgs := []string{
		"-y",
		"-ss", e.settings.ThumbnailAt,
		"-i", inputPath,
		"-frames:v", "1",
		"-q:v", "2",
		filepath.Join(outputDir, ThumbnailName),
	}
	return run(ctx, e.runner, e.settings, "thumbnail", thumbArgs)
}

// AudioEncoder produces an audio-only HLS rendition.
type AudioEncoder struct {
	runner   Runner
	settings Settings
}

func NewAudioEncoder(runner Runner, settings Settings) *AudioEncoder {
	return &AudioEncoder{runner: runner, settings: settings.withDefaults()}
}

func (e *AudioEncoder) Encode(ctx context.Context, inputPath, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	args := []string{
		"-y",
		"-i", inputPath,
		"-vn",
		"-c:a", "aac",
		"-b:a", e.settings.AudioBitrate,
	}
	args = append(args, hlsArgs(e.settings, outputDir)...)
	return run(ctx, e.runner, e.settings, "hls audio", args)
}

// ImageEncoder produces one scaled JPEG.
type ImageEncoder struct {
	runner   Runner
	settings Settings
}

func NewImageEncoder(runner Runner, settings Settings) *ImageEncoder {
	return &ImageEncoder{runner: runner, settings: settings.withDefaults()}
}

func (e *ImageEncoder) Encode(ctx context.Context, inputPath, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	args := []string{
		"-y",
		"-i", inputPath,
		"-vf", scaleFilter(e.settings.ImageHeight),
		"-frames:v", "1",
		filepath.Join(outputDir, ImageName),
	}
	return run(ctx, e.runner, e.settings, "image", args)
}
