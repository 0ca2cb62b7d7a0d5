package renderpipe

// TicksPerSecond is the 100-ns tick unit used throughout the renderer for
// timestamps and durations (§6 "Values & units").
const TicksPerSecond int64 = 10_000_000

// FramesToTicks converts a frame count at sampleRate into 100-ns ticks.
func FramesToTicks(frames, sampleRate int) int64 {
	if sampleRate <= 0 {
		return 0
	}
	return int64(frames) * TicksPerSecond / int64(sampleRate)
}

// TicksToFrames converts a 100-ns tick duration at sampleRate into a frame
// count, truncating any fractional frame.
func TicksToFrames(ticks int64, sampleRate int) int {
	if sampleRate <= 0 {
		return 0
	}
	return int(ticks * int64(sampleRate) / TicksPerSecond)
}

// ComponentRenderPipe tags errors originating from the shared pipeline
// data model (Chunk, format conversion).
const ComponentRenderPipe = "renderpipe"
