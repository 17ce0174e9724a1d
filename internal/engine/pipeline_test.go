package engine

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

func newTestCompiler(t *testing.T) *Compiler {
	t.Helper()
	return &Compiler{ScratchDir: t.TempDir(), Profiles: DefaultProfiles()}
}

// argIndex returns the position of value in args, or -1.
func argIndex(args []string, value string) int {
	return slices.Index(args, value)
}

func argAfter(t *testing.T, args []string, flag string) string {
	t.Helper()
	i := argIndex(args, flag)
	if i < 0 || i+1 >= len(args) {
		t.Fatalf("flag %s not found in %v", flag, args)
	}
	return args[i+1]
}

func TestCompileVideoModeLooped(t *testing.T) {
	dir := t.TempDir()
	c := newTestCompiler(t)
	a := writeMedia(t, dir, "a.mp4")
	b := writeMedia(t, dir, "b.mp4")

	p, err := c.Compile(CompileRequest{
		SessionID:   "s1",
		Mode:        VideoMode,
		Sources:     SourceSet{Videos: []string{a, b}},
		Destination: "rtmp://a.rtmp.youtube.com/live2/key",
		Loop:        true,
		HasAudio:    true,
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(p.Scratch) != 1 {
		t.Fatalf("expected one manifest, got %v", p.Scratch)
	}
	args := p.Args
	if argIndex(args, "-re") < 0 {
		t.Fatalf("video input must be paced: %v", args)
	}
	loop := argIndex(args, "-stream_loop")
	manifest := argIndex(args, p.Scratch[0])
	if loop < 0 || manifest < 0 || loop > manifest {
		t.Fatalf("loop flag must precede the manifest input: %v", args)
	}
	if got := argAfter(t, args, "-filter_complex"); !strings.Contains(got, "[0:a]") {
		t.Fatalf("source audio not used: %s", got)
	}
	if argIndex(args, "anullsrc=r=44100:cl=stereo") >= 0 {
		t.Fatalf("silence injected despite source audio: %v", args)
	}
	if args[len(args)-1] != "rtmp://a.rtmp.youtube.com/live2/key" {
		t.Fatalf("destination must be the final argument: %v", args)
	}
	if p.Platform != "YouTube" {
		t.Fatalf("platform = %s, want YouTube", p.Platform)
	}
}

func TestCompileVideoModeSilentSource(t *testing.T) {
	dir := t.TempDir()
	c := newTestCompiler(t)
	a := writeMedia(t, dir, "a.mp4")

	p, err := c.Compile(CompileRequest{
		SessionID:   "s1",
		Mode:        VideoMode,
		Sources:     SourceSet{Videos: []string{a}},
		Destination: "rtmp://ingest.example/app/key",
		HasAudio:    false,
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if argIndex(p.Args, "anullsrc=r=44100:cl=stereo") < 0 {
		t.Fatalf("silence not injected: %v", p.Args)
	}
	if got := argAfter(t, p.Args, "-filter_complex"); !strings.Contains(got, "[1:a]") {
		t.Fatalf("audio must come from the silence input: %s", got)
	}
	// Without looping, the silent track must not keep the session alive
	// after the video ends.
	if argIndex(p.Args, "-shortest") < 0 {
		t.Fatalf("-shortest missing: %v", p.Args)
	}
	if p.Platform != "Custom" {
		t.Fatalf("platform = %s, want Custom", p.Platform)
	}
}

func TestCompileStaticAudioWithCover(t *testing.T) {
	dir := t.TempDir()
	c := newTestCompiler(t)
	song := writeMedia(t, dir, "song.mp3")
	cover := writeMedia(t, dir, "cover.jpg")

	p, err := c.Compile(CompileRequest{
		SessionID:   "s1",
		Mode:        StaticAudioMode,
		Sources:     SourceSet{Audios: []string{song}},
		Destination: "rtmp://live.twitch.tv/app/key",
		Loop:        true,
		CoverImage:  cover,
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	args := p.Args
	if argIndex(args, cover) < 0 {
		t.Fatalf("cover image not used: %v", args)
	}
	// The still image is the timing master; the audio playlist must not
	// carry its own -re.
	re := argIndex(args, "-re")
	coverIdx := argIndex(args, cover)
	if re < 0 || re > coverIdx {
		t.Fatalf("-re must pace the visual input: %v", args)
	}
	if n := strings.Count(strings.Join(args, " "), " -re "); n > 1 {
		t.Fatalf("only one input may be paced: %v", args)
	}
	if fps := argAfter(t, args, "-r"); fps != "20" {
		t.Fatalf("static profile fps = %s, want 20", fps)
	}
	if g := argAfter(t, args, "-g"); g != "40" {
		t.Fatalf("keyframe interval = %s, want 40 (2x fps)", g)
	}
	if bv := argAfter(t, args, "-b:v"); bv != "2000k" {
		t.Fatalf("video bitrate = %s, want 2000k", bv)
	}
	if bs := argAfter(t, args, "-bufsize"); bs != "4000k" {
		t.Fatalf("bufsize = %s, want 4000k (2x bitrate)", bs)
	}
	if p.Platform != "Twitch" {
		t.Fatalf("platform = %s, want Twitch", p.Platform)
	}
}

func TestCompileStaticAudioSelectedImageBecomesCover(t *testing.T) {
	dir := t.TempDir()
	c := newTestCompiler(t)
	song := writeMedia(t, dir, "song.mp3")
	art := writeMedia(t, dir, "art.jpg")

	p, err := c.Compile(CompileRequest{
		SessionID:   "s1",
		Mode:        StaticAudioMode,
		Sources:     SourceSet{Audios: []string{song}, Images: []string{art}},
		Destination: "rtmp://ingest.example/app/key",
		Loop:        true,
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if argIndex(p.Args, art) < 0 {
		t.Fatalf("selected image not used as cover: %v", p.Args)
	}
	if argIndex(p.Args, "color=c=black:s=1280x720:r=20") >= 0 {
		t.Fatalf("black canvas used despite a selected image: %v", p.Args)
	}
}

func TestCompileStaticAudioBlackFallback(t *testing.T) {
	dir := t.TempDir()
	c := newTestCompiler(t)
	song := writeMedia(t, dir, "song.mp3")

	p, err := c.Compile(CompileRequest{
		SessionID:   "s1",
		Mode:        StaticAudioMode,
		Sources:     SourceSet{Audios: []string{song}},
		Destination: "rtmp://ingest.example/app/key",
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if argIndex(p.Args, "color=c=black:s=1280x720:r=20") < 0 {
		t.Fatalf("black canvas fallback missing: %v", p.Args)
	}
}

func TestCompileSlideshow(t *testing.T) {
	dir := t.TempDir()
	c := newTestCompiler(t)
	a := writeMedia(t, dir, "a.jpg")

	p, err := c.Compile(CompileRequest{
		SessionID:   "s1",
		Mode:        SlideshowMode,
		Sources:     SourceSet{Images: []string{a}},
		Destination: "rtmp://ingest.example/app/key",
		Loop:        true,
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if argIndex(p.Args, "anullsrc=r=44100:cl=stereo") < 0 {
		t.Fatalf("slideshow needs injected silence: %v", p.Args)
	}
	if argIndex(p.Args, "-stream_loop") < 0 {
		t.Fatalf("loop flag missing: %v", p.Args)
	}
}

func TestCompileHybrid(t *testing.T) {
	dir := t.TempDir()
	c := newTestCompiler(t)
	video := writeMedia(t, dir, "visual.mp4")
	song := writeMedia(t, dir, "song.mp3")

	p, err := c.Compile(CompileRequest{
		SessionID:   "s1",
		Mode:        HybridMode,
		Sources:     SourceSet{Videos: []string{video}, Audios: []string{song}},
		Destination: "rtmp://ingest.example/app/key",
		Loop:        true,
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	args := p.Args
	if argIndex(args, video) < 0 {
		t.Fatalf("driving video missing: %v", args)
	}
	if got := argAfter(t, args, "-filter_complex"); !strings.Contains(got, "[1:a]") || !strings.Contains(got, "[0:v]") {
		t.Fatalf("hybrid must pair video 0 with audio 1: %s", got)
	}
}

func TestCompileMissingDestination(t *testing.T) {
	c := newTestCompiler(t)
	_, err := c.Compile(CompileRequest{
		SessionID: "s1",
		Mode:      VideoMode,
		Sources:   SourceSet{Videos: []string{"/nope.mp4"}},
	})
	if !errors.Is(err, ErrNoDestination) {
		t.Fatalf("expected ErrNoDestination, got %v", err)
	}
}

func TestCompileNoPlayableFiles(t *testing.T) {
	c := newTestCompiler(t)
	_, err := c.Compile(CompileRequest{
		SessionID:   "s1",
		Mode:        VideoMode,
		Sources:     SourceSet{Videos: []string{"/does/not/exist.mp4"}},
		Destination: "rtmp://ingest.example/app/key",
	})
	if !errors.Is(err, ErrNoPlayableFiles) {
		t.Fatalf("expected ErrNoPlayableFiles, got %v", err)
	}
}
