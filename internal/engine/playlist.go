package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoPlayableFiles is returned when none of the listed files exist on
// disk, so there is nothing a pipeline could play.
var ErrNoPlayableFiles = errors.New("engine: none of the selected files exist")

// Manifest is a concat-demuxer playlist written to the scratch directory.
// The session that created it owns the file and deletes it on teardown.
type Manifest struct {
	Path  string
	Files []string
}

// manifestQuote wraps a path for a concat manifest "file" directive. Single
// quotes inside the path terminate the quoted span, escape, and reopen it.
func manifestQuote(path string) string {
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}

// WriteManifest writes a concat playlist named <sessionID>-<role>.txt under
// dir. Files that do not exist are skipped; if nothing remains the manifest
// is not written and ErrNoPlayableFiles is returned. imageDuration, when
// positive, emits a duration directive after each entry and repeats the
// final file, which the concat demuxer needs to honour the last duration.
func WriteManifest(dir, sessionID, role string, files []string, imageDuration int) (*Manifest, error) {
	var (
		sb   strings.Builder
		kept []string
	)
	sb.WriteString("ffconcat version 1.0\n")
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			continue
		}
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		kept = append(kept, abs)
		sb.WriteString("file " + manifestQuote(abs) + "\n")
		if imageDuration > 0 {
			fmt.Fprintf(&sb, "duration %d\n", imageDuration)
		}
	}
	if len(kept) == 0 {
		return nil, ErrNoPlayableFiles
	}
	if imageDuration > 0 {
		sb.WriteString("file " + manifestQuote(kept[len(kept)-1]) + "\n")
	}

	path := filepath.Join(dir, sessionID+"-"+role+".txt")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return nil, fmt.Errorf("write %s manifest: %w", role, err)
	}
	return &Manifest{Path: path, Files: kept}, nil
}
