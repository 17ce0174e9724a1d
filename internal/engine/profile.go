package engine

import "fmt"

// EncodeProfile fixes the output format of a compiled pipeline. Every
// session encodes to the same canvas so destination platforms see a stable
// stream regardless of what the source media looks like.
type EncodeProfile struct {
	Width         int
	Height        int
	FPS           int
	VideoBitrateK int
	AudioBitrateK int
	SampleRate    int
	Channels      int
	Preset        string
}

// KeyframeInterval returns the GOP length in frames. Destinations expect a
// keyframe every two seconds, so the interval tracks the frame rate.
func (p EncodeProfile) KeyframeInterval() int {
	return 2 * p.FPS
}

// BufsizeK returns the rate-control buffer in kilobits, twice the target
// video bitrate.
func (p EncodeProfile) BufsizeK() int {
	return 2 * p.VideoBitrateK
}

func (p EncodeProfile) canvas() string {
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}

// Profiles holds the two encode tiers: Motion for sessions whose visual
// actually moves (video, hybrid) and Static for still visuals (cover art,
// slideshows), where a lower frame rate buys bitrate headroom.
type Profiles struct {
	Motion EncodeProfile
	Static EncodeProfile
}

// DefaultProfiles returns the stock 720p tiers.
func DefaultProfiles() Profiles {
	return Profiles{
		Motion: EncodeProfile{
			Width:         1280,
			Height:        720,
			FPS:           30,
			VideoBitrateK: 2500,
			AudioBitrateK: 128,
			SampleRate:    44100,
			Channels:      2,
			Preset:        "veryfast",
		},
		Static: EncodeProfile{
			Width:         1280,
			Height:        720,
			FPS:           20,
			VideoBitrateK: 2000,
			AudioBitrateK: 128,
			SampleRate:    44100,
			Channels:      2,
			Preset:        "veryfast",
		},
	}
}

// For selects the profile tier for a pipeline mode.
func (p Profiles) For(mode Mode) EncodeProfile {
	switch mode {
	case StaticAudioMode, SlideshowMode:
		return p.Static
	default:
		return p.Motion
	}
}
