package fingerprint

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"
)

type seen struct {
	hashes Hashes
	at     time.Time
}

type mockHistory struct {
	records []seen
	err     error
	mu      sync.RWMutex
}

func (m *mockHistory) record(h Hashes, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, seen{hashes: h, at: at})
}

func (m *mockHistory) RecentReuse(_ context.Context, _ *gorm.DB, h Hashes, fullSince, pairSince time.Time) (Reuse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.err != nil {
		return Reuse{}, m.err
	}

	var r Reuse
	for _, rec := range m.records {
		if rec.hashes.WebGLCanvasAudio == h.WebGLCanvasAudio && rec.at.After(fullSince) {
			r.Full = true
		}
		pairMatch := rec.hashes.WebGLCanvas == h.WebGLCanvas ||
			rec.hashes.WebGLAudio == h.WebGLAudio ||
			rec.hashes.CanvasAudio == h.CanvasAudio
		if pairMatch && rec.at.After(pairSince) {
			r.Pair = true
		}
	}
	return r, nil
}
