package engine

import (
	"errors"
	"testing"
)

func TestClassifyModes(t *testing.T) {
	cases := []struct {
		name  string
		files []string
		want  Mode
	}{
		{"single video", []string{"/media/a.mp4"}, VideoMode},
		{"video playlist", []string{"/media/a.mp4", "/media/b.mkv"}, VideoMode},
		{"audio playlist", []string{"/media/a.mp3", "/media/b.mp3"}, StaticAudioMode},
		{"audio with cover image", []string{"/media/a.mp3", "/media/cover.jpg"}, StaticAudioMode},
		{"images only", []string{"/media/a.jpg", "/media/b.png"}, SlideshowMode},
		{"one video plus audio", []string{"/media/a.mp4", "/media/b.mp3"}, HybridMode},
		{"two videos plus audio", []string{"/media/a.mp4", "/media/b.mp4", "/media/c.mp3"}, VideoMode},
		{"unknown extension is video", []string{"/media/capture.ts"}, VideoMode},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Classify(tc.files)
			if err != nil {
				t.Fatalf("Classify returned error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Classify = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestClassifyEmptySelection(t *testing.T) {
	if _, err := Classify(nil); !errors.Is(err, ErrNoInput) {
		t.Fatalf("expected ErrNoInput, got %v", err)
	}
}

func TestSplitSources(t *testing.T) {
	set := SplitSources([]string{"/m/a.mp4", "/m/b.flac", "/m/c.webp", "/m/d.ogg"})
	if len(set.Videos) != 1 || len(set.Audios) != 2 || len(set.Images) != 1 {
		t.Fatalf("unexpected split: %+v", set)
	}
}
