// Package pacer implements exponential-backoff retry pacing for outbound
// RPCs. It is modeled on the teacher's lib/pacer as used by
// backend/sia/sia.go (minSleep/maxSleep/decayConstant driving a
// rest.Client+pacer.Pacer pair) and backend/raid3/helpers.go's timeout-mode
// adjustments; the library itself is internal to the teacher module so
// rather than import it we reimplement the pattern against our own RPC
// client.
package pacer

import (
	"math/rand"
	"sync"
	"time"
)

// Pacer paces retries for one peer connection: each call to
// Sleep waits the current backoff, and Success/Fail tune the backoff toward
// the configured bounds.
type Pacer struct {
	mu            sync.Mutex
	minSleep      time.Duration
	maxSleep      time.Duration
	decayConstant uint
	sleepTime     time.Duration
}

// New returns a Pacer with the given bounds and exponential decay constant
// (bigger decayConstant means slower backoff growth/decay).
func New(minSleep, maxSleep time.Duration, decayConstant uint) *Pacer {
	return &Pacer{
		minSleep:      minSleep,
		maxSleep:      maxSleep,
		decayConstant: decayConstant,
		sleepTime:     minSleep,
	}
}

// Sleep blocks for the current backoff duration, jittered by up to 50%.
func (p *Pacer) Sleep() {
	p.mu.Lock()
	d := p.sleepTime
	p.mu.Unlock()
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	time.Sleep(d/2 + jitter)
}

// Success narrows the backoff back toward minSleep after a successful call.
func (p *Pacer) Success() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sleepTime = (p.sleepTime*time.Duration(p.decayConstant) - p.sleepTime) / time.Duration(p.decayConstant)
	if p.sleepTime < p.minSleep {
		p.sleepTime = p.minSleep
	}
}

// Fail widens the backoff toward maxSleep after a failed call.
func (p *Pacer) Fail() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sleepTime *= 2
	if p.sleepTime > p.maxSleep {
		p.sleepTime = p.maxSleep
	}
}

// Default bounds, matching the teacher's sia backend constants.
const (
	DefaultMinSleep      = 10 * time.Millisecond
	DefaultMaxSleep      = 2 * time.Second
	DefaultDecayConstant = 2
)

// NewDefault returns a Pacer with the teacher's default bounds.
func NewDefault() *Pacer {
	return New(DefaultMinSleep, DefaultMaxSleep, DefaultDecayConstant)
}
