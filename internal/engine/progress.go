package engine

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Progress is one record from ffmpeg's -progress output: the encoder's
// position in the output timeline plus the momentary bitrate.
type Progress struct {
	// ElapsedSeconds is the output timestamp, truncated to whole seconds.
	ElapsedSeconds int64
	// Bitrate is the encoder's self-reported rate, e.g. "2513.4kbits/s".
	Bitrate string
	// End marks the final record before a clean exit.
	End bool
}

// ReadProgress parses the key=value stream ffmpeg writes under -progress
// and delivers one Progress per record to emit. It returns when the reader
// is exhausted, which for a pipe means the process closed its end.
//
// Records are delimited by the progress= key, which ffmpeg always writes
// last. out_time_us and out_time_ms both hold microseconds; the _ms name is
// a long-standing ffmpeg quirk.
func ReadProgress(r io.Reader, emit func(Progress)) error {
	scanner := bufio.NewScanner(r)
	var cur Progress
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "out_time_us", "out_time_ms":
			if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
				cur.ElapsedSeconds = us / 1_000_000
			}
		case "bitrate":
			cur.Bitrate = value
		case "progress":
			cur.End = value == "end"
			emit(cur)
			cur = Progress{ElapsedSeconds: cur.ElapsedSeconds}
		}
	}
	return scanner.Err()
}
