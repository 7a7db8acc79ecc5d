package tunnel

import (
	"sync/atomic"

	"github.com/speters/slcan-tunnel/slcan"
)

// DirectionStats counts the traffic of one relay direction
type DirectionStats struct {
	Commands     atomic.Uint64
	Frames       atomic.Uint64
	Bytes        atomic.Uint64 // written to the sink
	DecodeErrors atomic.Uint64
	EncodeErrors atomic.Uint64
}

func (s *DirectionStats) count(c slcan.Command, written int) {
	s.Commands.Add(1)
	if c.IsFrame() {
		s.Frames.Add(1)
	}
	s.Bytes.Add(uint64(written))
}

// DirectionSnapshot is a point in time copy of DirectionStats
type DirectionSnapshot struct {
	Commands     uint64 `json:"commands"`
	Frames       uint64 `json:"frames"`
	Bytes        uint64 `json:"bytes"`
	DecodeErrors uint64 `json:"decode_errors"`
	EncodeErrors uint64 `json:"encode_errors"`
}

// Snapshot copies the current counters
func (s *DirectionStats) Snapshot() DirectionSnapshot {
	return DirectionSnapshot{
		Commands:     s.Commands.Load(),
		Frames:       s.Frames.Load(),
		Bytes:        s.Bytes.Load(),
		DecodeErrors: s.DecodeErrors.Load(),
		EncodeErrors: s.EncodeErrors.Load(),
	}
}

// Stats holds the counters of both directions of a tunnel
type Stats struct {
	Inbound  DirectionStats
	Outbound DirectionStats
}

func (s *Stats) direction(d Direction) *DirectionStats {
	if d == Inbound {
		return &s.Inbound
	}
	return &s.Outbound
}
