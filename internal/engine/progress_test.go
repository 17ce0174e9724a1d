package engine

import (
	"strings"
	"testing"
)

func TestReadProgress(t *testing.T) {
	input := strings.Join([]string{
		"frame=120",
		"bitrate=2513.4kbits/s",
		"out_time_us=5000000",
		"out_time_ms=5000000",
		"out_time=00:00:05.000000",
		"progress=continue",
		"bitrate=2498.1kbits/s",
		"out_time_us=10250000",
		"progress=continue",
		"bitrate=N/A",
		"out_time_us=12000000",
		"progress=end",
	}, "\n")

	var got []Progress
	if err := ReadProgress(strings.NewReader(input), func(rec Progress) {
		got = append(got, rec)
	}); err != nil {
		t.Fatalf("ReadProgress: %v", err)
	}
	want := []Progress{
		{ElapsedSeconds: 5, Bitrate: "2513.4kbits/s"},
		{ElapsedSeconds: 10, Bitrate: "2498.1kbits/s"},
		{ElapsedSeconds: 12, Bitrate: "N/A", End: true},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("record %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestReadProgressIgnoresGarbage(t *testing.T) {
	input := "not a key value line\nout_time_us=abc\nprogress=continue\n"
	var got []Progress
	if err := ReadProgress(strings.NewReader(input), func(rec Progress) {
		got = append(got, rec)
	}); err != nil {
		t.Fatalf("ReadProgress: %v", err)
	}
	if len(got) != 1 || got[0].ElapsedSeconds != 0 {
		t.Fatalf("unexpected records: %+v", got)
	}
}
