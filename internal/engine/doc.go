// Package engine implements the streaming orchestration core: it classifies
// user media into a pipeline mode, compiles an ffmpeg invocation that loops
// the media gaplessly into an RTMP publish, supervises the resulting
// long-running process, and enforces watch-time quotas from encoder progress.
//
// The engine deliberately never restarts a crashed process; it reports the
// failure through the event queue and releases every owned resource, leaving
// restart policy to callers.
package engine
