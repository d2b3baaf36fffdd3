package server

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/serialplot/internal/protocol"
)

// LineValue is the latest sample of one data line.
type LineValue struct {
	Label     string    `json:"label"`
	Value     float64   `json:"value"`
	Peer      string    `json:"peer"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BoardSnapshot is what /lines serves.
type BoardSnapshot struct {
	Lines    []LineValue              `json:"lines"`
	Settings protocol.MonitorSettings `json:"settings"`
	Ticks    uint64                   `json:"ticks"`
}

// Board is a Sink keeping the latest value per label in first-seen order,
// plus the merged settings. It keeps no history.
type Board struct {
	mu       sync.Mutex
	order    []string
	lines    map[string]LineValue
	settings protocol.MonitorSettings
	ticks    uint64
	now      func() time.Time
}

var _ Sink = (*Board)(nil)

func NewBoard() *Board {
	return &Board{lines: make(map[string]LineValue), now: time.Now}
}

func (b *Board) Deliver(_ context.Context, peerID string, msg protocol.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch m := msg.(type) {
	case protocol.Data:
		at := b.now()
		for _, e := range m.Entries {
			if _, ok := b.lines[e.Label]; !ok {
				b.order = append(b.order, e.Label)
			}
			b.lines[e.Label] = LineValue{Label: e.Label, Value: e.Value, Peer: peerID, UpdatedAt: at}
		}
		b.ticks++
	case protocol.Settings:
		b.settings = b.settings.Merge(m.MonitorSettings)
	}
	return nil
}

func (b *Board) Snapshot() BoardSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	lines := make([]LineValue, 0, len(b.order))
	for _, label := range b.order {
		lines = append(lines, b.lines[label])
	}
	return BoardSnapshot{Lines: lines, Settings: b.settings.Clone(), Ticks: b.ticks}
}
