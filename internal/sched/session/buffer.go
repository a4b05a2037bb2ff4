package session

// utteranceBuffer accumulates one utterance index's audio and tracks the
// duration estimate the finalize policy compares against max_duration_ms.
type utteranceBuffer struct {
	data []byte

	firstChunkTsMs int64
	hasFirstChunk  bool
	lastChunkTsMs  int64
}

func (b *utteranceBuffer) append(chunk []byte, tsMs int64) {
	b.data = append(b.data, chunk...)
	if !b.hasFirstChunk {
		b.firstChunkTsMs = tsMs
		b.hasFirstChunk = true
	}
	b.lastChunkTsMs = tsMs
}

func (b *utteranceBuffer) len() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// durationMs estimates accumulated_audio_duration_ms from the spread between
// the first and last chunk timestamps seen so far.
func (b *utteranceBuffer) durationMs() int64 {
	if b == nil || !b.hasFirstChunk {
		return 0
	}
	d := b.lastChunkTsMs - b.firstChunkTsMs
	if d < 0 {
		return 0
	}
	return d
}

// take returns the accumulated audio and clears the buffer, without
// resetting firstChunkTsMs/lastChunkTsMs bookkeeping (the caller discards
// the whole utteranceBuffer after take).
func (b *utteranceBuffer) take() []byte {
	d := b.data
	b.data = nil
	return d
}
