package engine

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoDestination is returned when a compile request carries no RTMP URL.
var ErrNoDestination = errors.New("engine: destination URL is required")

// CompileRequest describes one session's media and target.
type CompileRequest struct {
	SessionID   string
	Mode        Mode
	Sources     SourceSet
	Destination string
	// Loop keeps the pipeline running forever by looping its driving
	// input at the demuxer.
	Loop bool
	// HasAudio reports whether the driving video carries an audio track.
	// Only consulted in VideoMode; false injects silence.
	HasAudio bool
	// CoverImage, when set and readable, becomes the still visual for
	// StaticAudioMode. A black canvas is synthesised otherwise.
	CoverImage string
	// ImageDuration is the seconds each slideshow image stays on screen.
	ImageDuration int
}

// Pipeline is a fully compiled ffmpeg invocation plus the scratch files it
// depends on. The session owns the scratch files and removes them when the
// process exits.
type Pipeline struct {
	Args     []string
	Scratch  []string
	Profile  EncodeProfile
	Platform string
}

// Compiler turns compile requests into ffmpeg argument vectors. It is
// stateless apart from its configuration and safe for concurrent use.
type Compiler struct {
	ScratchDir    string
	Profiles      Profiles
	ImageDuration int
}

const defaultImageDuration = 5

// Compile builds the argument vector for one session. All playlist
// manifests are written before returning, so a successful compile means the
// process can be spawned immediately.
func (c *Compiler) Compile(req CompileRequest) (*Pipeline, error) {
	if strings.TrimSpace(req.Destination) == "" {
		return nil, ErrNoDestination
	}
	profile := c.Profiles.For(req.Mode)
	p := &Pipeline{Profile: profile, Platform: PlatformLabel(req.Destination)}

	var (
		inputs   []string
		videoPad string
		audioPad string
		shortest bool
	)

	switch req.Mode {
	case VideoMode:
		manifest, err := c.writeManifest(p, req.SessionID, "playlist", req.Sources.Videos, 0)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, pacedConcatInput(manifest.Path, req.Loop)...)
		videoPad = "[0:v]"
		if req.HasAudio {
			audioPad = "[0:a]"
		} else {
			inputs = append(inputs, silenceInput(profile)...)
			audioPad = "[1:a]"
			shortest = !req.Loop
		}

	case StaticAudioMode:
		cover := req.CoverImage
		if cover == "" && len(req.Sources.Images) > 0 {
			// No explicit cover chosen, but the selection includes
			// images: the first one becomes the station art.
			cover = req.Sources.Images[0]
		}
		inputs = append(inputs, stillVisualInput(cover, profile)...)
		manifest, err := c.writeManifest(p, req.SessionID, "audio", req.Sources.Audios, 0)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, unpacedConcatInput(manifest.Path, req.Loop)...)
		videoPad = "[0:v]"
		audioPad = "[1:a]"
		// The still visual never ends on its own, so the audio
		// playlist decides the session length.
		shortest = true

	case SlideshowMode:
		duration := req.ImageDuration
		if duration <= 0 {
			duration = c.ImageDuration
		}
		if duration <= 0 {
			duration = defaultImageDuration
		}
		manifest, err := c.writeManifest(p, req.SessionID, "playlist", req.Sources.Images, duration)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, pacedConcatInput(manifest.Path, req.Loop)...)
		inputs = append(inputs, silenceInput(profile)...)
		videoPad = "[0:v]"
		audioPad = "[1:a]"
		shortest = true

	case HybridMode:
		video := req.Sources.Videos[0]
		if _, err := os.Stat(video); err != nil {
			return nil, ErrNoPlayableFiles
		}
		inputs = append(inputs, pacedFileInput(video, req.Loop)...)
		manifest, err := c.writeManifest(p, req.SessionID, "audio", req.Sources.Audios, 0)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, unpacedConcatInput(manifest.Path, req.Loop)...)
		videoPad = "[0:v]"
		audioPad = "[1:a]"
		shortest = !req.Loop

	default:
		return nil, fmt.Errorf("engine: unsupported mode %s", req.Mode)
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-nostats", "-progress", "pipe:1"}
	args = append(args, inputs...)
	args = append(args,
		"-filter_complex",
		fmt.Sprintf("%s%s[vout];%s%s[aout]", videoPad, videoFilter(profile), audioPad, audioFilter(profile)),
		"-map", "[vout]",
		"-map", "[aout]",
	)
	if shortest {
		args = append(args, "-shortest")
	}
	args = append(args, encodeArgs(profile)...)
	args = append(args, "-f", "flv", "-flvflags", "no_duration_filesize", req.Destination)
	p.Args = args
	return p, nil
}

func (c *Compiler) writeManifest(p *Pipeline, sessionID, role string, files []string, imageDuration int) (*Manifest, error) {
	m, err := WriteManifest(c.ScratchDir, sessionID, role, files, imageDuration)
	if err != nil {
		return nil, err
	}
	p.Scratch = append(p.Scratch, m.Path)
	return m, nil
}

// pacedConcatInput is the timing-master form: ffmpeg reads the playlist at
// native rate so the RTMP publish keeps wall-clock pace.
func pacedConcatInput(manifest string, loop bool) []string {
	args := []string{"-re"}
	if loop {
		args = append(args, "-stream_loop", "-1")
	}
	return append(args, "-f", "concat", "-safe", "0", "-i", manifest)
}

// unpacedConcatInput feeds a slave playlist with no rate limiting; the
// master input on the other branch sets the pace.
func unpacedConcatInput(manifest string, loop bool) []string {
	var args []string
	if loop {
		args = append(args, "-stream_loop", "-1")
	}
	return append(args, "-f", "concat", "-safe", "0", "-i", manifest)
}

func pacedFileInput(path string, loop bool) []string {
	args := []string{"-re"}
	if loop {
		args = append(args, "-stream_loop", "-1")
	}
	return append(args, "-i", path)
}

func silenceInput(p EncodeProfile) []string {
	src := fmt.Sprintf("anullsrc=r=%d:cl=stereo", p.SampleRate)
	return []string{"-f", "lavfi", "-i", src}
}

// stillVisualInput builds the paced video branch for audio-only sessions: a
// looped cover image when one is readable, a black canvas otherwise.
func stillVisualInput(cover string, p EncodeProfile) []string {
	if cover != "" {
		if _, err := os.Stat(cover); err == nil {
			return []string{"-re", "-loop", "1", "-framerate", itoa(p.FPS), "-i", cover}
		}
	}
	src := fmt.Sprintf("color=c=black:s=%s:r=%d", p.canvas(), p.FPS)
	return []string{"-f", "lavfi", "-re", "-i", src}
}

// videoFilter normalises any source to the profile canvas: downscale to
// fit, letterbox the remainder, force a streamable pixel format and a
// constant frame rate.
func videoFilter(p EncodeProfile) string {
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black,format=yuv420p,fps=%d",
		p.Width, p.Height, p.Width, p.Height, p.FPS,
	)
}

func audioFilter(p EncodeProfile) string {
	return fmt.Sprintf("aresample=async=1,aformat=sample_rates=%d:channel_layouts=stereo", p.SampleRate)
}

// encodeArgs produces the constant-bitrate H.264/AAC encode shared by every
// mode. The keyframe interval is pinned to two seconds of frames because
// RTMP ingest platforms reject sparse keyframes.
func encodeArgs(p EncodeProfile) []string {
	keyint := itoa(p.KeyframeInterval())
	return []string{
		"-c:v", "libx264",
		"-preset", p.Preset,
		"-tune", "zerolatency",
		"-r", itoa(p.FPS),
		"-g", keyint,
		"-keyint_min", keyint,
		"-sc_threshold", "0",
		"-b:v", kbits(p.VideoBitrateK),
		"-maxrate", kbits(p.VideoBitrateK),
		"-bufsize", kbits(p.BufsizeK()),
		"-c:a", "aac",
		"-b:a", kbits(p.AudioBitrateK),
		"-ar", itoa(p.SampleRate),
		"-ac", itoa(p.Channels),
	}
}

func itoa(n int) string { return fmt.Sprintf("%d", n) }

func kbits(n int) string { return fmt.Sprintf("%dk", n) }

// PlatformLabel names the destination platform from its RTMP URL for
// display purposes.
func PlatformLabel(rtmpURL string) string {
	u := strings.ToLower(rtmpURL)
	switch {
	case strings.Contains(u, "youtube"):
		return "YouTube"
	case strings.Contains(u, "twitch"):
		return "Twitch"
	case strings.Contains(u, "facebook"):
		return "Facebook"
	case strings.Contains(u, "kick"):
		return "Kick"
	default:
		return "Custom"
	}
}
