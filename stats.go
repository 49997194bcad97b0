package gadget

import "sync/atomic"

// Stats counts what the streamer did. It is safe for concurrent use.
type Stats struct {
	framesSent    atomic.Uint64
	packetsSent   atomic.Uint64
	bytesSent     atomic.Uint64
	framesDropped atomic.Uint64
	framesAborted atomic.Uint64
	captureErrors atomic.Uint64
	writeErrors   atomic.Uint64
	wouldBlock    atomic.Uint64
	promotions    atomic.Uint64
	stops         atomic.Uint64
}

type StatsSnapshot struct {
	FramesSent    uint64 `json:"frames_sent"`
	PacketsSent   uint64 `json:"packets_sent"`
	BytesSent     uint64 `json:"bytes_sent"`
	FramesDropped uint64 `json:"frames_dropped"`
	FramesAborted uint64 `json:"frames_aborted"`
	CaptureErrors uint64 `json:"capture_errors"`
	WriteErrors   uint64 `json:"write_errors"`
	WouldBlock    uint64 `json:"would_block"`
	Promotions    uint64 `json:"promotions"`
	Stops         uint64 `json:"stops"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		FramesSent:    s.framesSent.Load(),
		PacketsSent:   s.packetsSent.Load(),
		BytesSent:     s.bytesSent.Load(),
		FramesDropped: s.framesDropped.Load(),
		FramesAborted: s.framesAborted.Load(),
		CaptureErrors: s.captureErrors.Load(),
		WriteErrors:   s.writeErrors.Load(),
		WouldBlock:    s.wouldBlock.Load(),
		Promotions:    s.promotions.Load(),
		Stops:         s.stops.Load(),
	}
}
