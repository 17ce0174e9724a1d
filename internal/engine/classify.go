package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"loopcast/internal/models"
)

// Mode selects the shape of the compiled ffmpeg pipeline.
type Mode int

const (
	// VideoMode plays a playlist of video files; audio follows the video
	// container, or silence is injected when the first file has no audio
	// track.
	VideoMode Mode = iota
	// StaticAudioMode loops an audio playlist over a still visual, either
	// a user-chosen cover image or a solid black canvas.
	StaticAudioMode
	// SlideshowMode cycles image files on a fixed per-image duration over
	// injected silence.
	SlideshowMode
	// HybridMode pairs a single driving video with a separate audio
	// playlist that replaces the video's own sound.
	HybridMode
)

func (m Mode) String() string {
	switch m {
	case VideoMode:
		return "video"
	case StaticAudioMode:
		return "static_audio"
	case SlideshowMode:
		return "slideshow"
	case HybridMode:
		return "hybrid"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ErrNoInput is returned when classification receives an empty media set.
var ErrNoInput = errors.New("engine: no input files")

// SourceSet is a media selection split by classified type.
type SourceSet struct {
	Videos []string
	Images []string
	Audios []string
}

// SplitSources buckets paths by their extension classification.
func SplitSources(files []string) SourceSet {
	var set SourceSet
	for _, f := range files {
		switch models.ClassifyExtension(filepath.Ext(f)) {
		case models.MediaTypeAudio:
			set.Audios = append(set.Audios, f)
		case models.MediaTypeImage:
			set.Images = append(set.Images, f)
		default:
			set.Videos = append(set.Videos, f)
		}
	}
	return set
}

// Mode derives the pipeline mode for the set. A single video alongside an
// audio selection becomes a hybrid stream; any other selection containing
// video is driven by the video playlist alone.
func (s SourceSet) Mode() (Mode, error) {
	switch {
	case len(s.Videos) == 1 && len(s.Audios) > 0:
		return HybridMode, nil
	case len(s.Videos) > 0:
		return VideoMode, nil
	case len(s.Audios) > 0:
		return StaticAudioMode, nil
	case len(s.Images) > 0:
		return SlideshowMode, nil
	default:
		return 0, ErrNoInput
	}
}

// Classify is a convenience wrapper over SplitSources plus SourceSet.Mode.
func Classify(files []string) (Mode, error) {
	return SplitSources(files).Mode()
}

// Prober answers whether a container carries at least one audio stream.
type Prober interface {
	HasAudio(ctx context.Context, path string) (bool, error)
}

// FFprobeProber shells out to ffprobe and inspects the stream listing.
type FFprobeProber struct {
	// Bin is the ffprobe executable, "ffprobe" when empty.
	Bin string
	// Timeout bounds a single probe, 10s when zero.
	Timeout time.Duration
}

type probeReport struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
}

// HasAudio probes path for an audio stream. Errors are returned so callers
// can decide; the engine treats a failed probe as "no audio" and injects
// silence rather than refusing to stream.
func (p *FFprobeProber) HasAudio(ctx context.Context, path string) (bool, error) {
	bin := p.Bin
	if bin == "" {
		bin = "ffprobe"
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		path,
	)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return false, fmt.Errorf("probe %s: %w", filepath.Base(path), err)
	}
	var report probeReport
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		return false, fmt.Errorf("decode probe output for %s: %w", filepath.Base(path), err)
	}
	for _, s := range report.Streams {
		if s.CodecType == "audio" {
			return true, nil
		}
	}
	return false, nil
}
