// Package state holds the operator-controlled monitoring flags shared
// between the command surface and the detection loop.
package state

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Mode selects what the detection loop does when it sees motion.
type Mode int32

const (
	ModePhoto Mode = iota
	ModeVideo
)

func (m Mode) String() string {
	switch m {
	case ModePhoto:
		return "photo"
	case ModeVideo:
		return "video"
	default:
		return "unknown"
	}
}

// ParseMode converts a mode name to a Mode. Matching is case-insensitive.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "photo":
		return ModePhoto, nil
	case "video":
		return ModeVideo, nil
	default:
		return 0, fmt.Errorf("invalid mode: %q", s)
	}
}

// Snapshot is a point-in-time copy of both fields.
type Snapshot struct {
	MonitoringActive bool
	Mode             Mode
}

// Reader is the read side consumed by the detection loop.
type Reader interface {
	Snapshot() Snapshot
}

// State is a single-writer, multi-reader cell. Each field is read and
// written atomically; nothing spans both fields.
type State struct {
	monitoring atomic.Bool
	mode       atomic.Int32
}

// New returns a State with monitoring enabled in photo mode.
func New() *State {
	s := &State{}
	s.monitoring.Store(true)
	s.mode.Store(int32(ModePhoto))
	return s
}

func (s *State) MonitoringActive() bool { return s.monitoring.Load() }

func (s *State) SetMonitoring(active bool) { s.monitoring.Store(active) }

func (s *State) Mode() Mode { return Mode(s.mode.Load()) }

func (s *State) SetMode(m Mode) { s.mode.Store(int32(m)) }

// Snapshot reads both fields. The pair is not read atomically as a unit.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		MonitoringActive: s.monitoring.Load(),
		Mode:             Mode(s.mode.Load()),
	}
}
