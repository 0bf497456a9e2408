// Package mentor runs the live voice mentor: a browser audio socket bridged
// to the provider's realtime audio socket.
package mentor

import (
	"sync"
	"time"
)

// Chunk is one scheduled piece of speech, in offsets from the session start
type Chunk struct {
	Seq   int           `json:"seq"`
	Start time.Duration `json:"-"`
	End   time.Duration `json:"-"`
}

// Playback keeps the monotonic schedule of synthesized speech. Successive
// chunks are placed back to back; an interruption drops everything queued.
type Playback struct {
	mu     sync.Mutex
	cursor time.Duration
	queued []Chunk
	seq    int
}

// Schedule places a chunk of duration at max(cursor, now) and advances the cursor
func (p *Playback) Schedule(now, duration time.Duration) Chunk {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := p.cursor
	if now > start {
		start = now
	}
	p.seq++
	chunk := Chunk{Seq: p.seq, Start: start, End: start + duration}
	p.cursor = chunk.End

	p.prune(now)
	p.queued = append(p.queued, chunk)
	return chunk
}

// Interrupt cancels every chunk that has not finished playing by now and
// resets the cursor. It returns the cancelled chunks.
func (p *Playback) Interrupt(now time.Duration) []Chunk {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.prune(now)
	cancelled := p.queued
	p.queued = nil
	p.cursor = 0
	return cancelled
}

// Pending counts chunks still playing or waiting at now
func (p *Playback) Pending(now time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prune(now)
	return len(p.queued)
}

// Cursor is the time the next chunk would start if scheduled right away
func (p *Playback) Cursor() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// prune drops finished chunks. Callers hold mu.
func (p *Playback) prune(now time.Duration) {
	i := 0
	for i < len(p.queued) && p.queued[i].End <= now {
		i++
	}
	p.queued = p.queued[i:]
}

// PCMDuration is the play time of n bytes of 16-bit mono PCM at sampleRate
func PCMDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := n / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
