package telemetry

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/QHYCCD-QUARCS/guidelink/internal/channel"
	"github.com/QHYCCD-QUARCS/guidelink/internal/protocol"
	"github.com/QHYCCD-QUARCS/guidelink/internal/shared/id"
)

// Reader consumes the telemetry header, lock star block and preview frame.
type Reader struct {
	ch *channel.Channel

	mu    sync.Mutex
	alert bool
}

// NewReader creates a reader over ch.
func NewReader(ch *channel.Channel) *Reader {
	return &Reader{ch: ch}
}

// StarLostAlert reports whether the last sample lost the star. It stays set
// until a sample arrives with the star found again.
func (r *Reader) StarLostAlert() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alert
}

// ClearStarLostAlert acknowledges the alert.
func (r *Reader) ClearStarLostAlert() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alert = false
}

// Poll returns the pending sample, or nil when the producer has not
// published a frame. It never blocks.
//
// A ready flag holding anything but 0x00 or 0x02 is a desync; so is the
// flag changing while the frame is being copied, in which case the sample
// is dropped. A header describing an impossible frame is malformed and no
// flag is touched.
func (r *Reader) Poll() (*Sample, error) {
	flag, err := r.ch.ReadU8(protocol.ImageReadyFlagOffset)
	if err != nil {
		return nil, fmt.Errorf("read image ready flag: %w", err)
	}
	switch flag {
	case protocol.ImageSlotFree:
		return nil, nil
	case protocol.ImageAvailable:
	default:
		return nil, &protocol.DesyncError{Flag: "ImageReadyFlag", Offset: protocol.ImageReadyFlagOffset, Value: flag}
	}

	header, err := r.ch.ReadAt(protocol.TelemetryHeaderOffset, protocol.TelemetryHeaderEnd-protocol.TelemetryHeaderOffset)
	if err != nil {
		return nil, fmt.Errorf("read telemetry header: %w", err)
	}
	lock, err := r.ch.ReadAt(protocol.LockStarOffset, protocol.LockStarEnd-protocol.LockStarOffset)
	if err != nil {
		return nil, fmt.Errorf("read lock star block: %w", err)
	}

	s := decodeHeader(fields{b: header, base: protocol.TelemetryHeaderOffset})
	size := protocol.ImageSize(s.Width, s.Height, s.BitDepth)
	if size == 0 {
		return nil, fmt.Errorf("%w: %dx%d at %d bits", protocol.ErrMalformedTelemetry, s.Width, s.Height, s.BitDepth)
	}
	s.Lock = decodeLockStar(fields{b: lock, base: protocol.LockStarOffset})

	// Consumed marker. Nothing gates on it; the image flag drives reads.
	if err := r.ch.WriteU8(protocol.TelemetryReadyFlagOffset, 0); err != nil {
		return nil, fmt.Errorf("clear telemetry ready flag: %w", err)
	}

	s.Image, err = r.ch.ReadAt(protocol.ImageBufferOffset, size)
	if err != nil {
		return nil, fmt.Errorf("copy image: %w", err)
	}

	flag, err = r.ch.ReadU8(protocol.ImageReadyFlagOffset)
	if err != nil {
		return nil, fmt.Errorf("read image ready flag: %w", err)
	}
	if flag != protocol.ImageAvailable {
		return nil, &protocol.DesyncError{Flag: "ImageReadyFlag", Offset: protocol.ImageReadyFlagOffset, Value: flag}
	}
	if err := r.ch.WriteU8(protocol.ImageReadyFlagOffset, protocol.ImageSlotFree); err != nil {
		return nil, fmt.Errorf("release image slot: %w", err)
	}

	s.ID = id.NewFrameID().String()
	s.At = time.Now()
	if s.InGuiding {
		s.Phase = PhaseGuiding
	}

	r.mu.Lock()
	r.alert = s.StarLost
	s.StarLostAlert = r.alert
	r.mu.Unlock()

	return s, nil
}

// fields decodes little-endian values from a copied region by absolute
// segment offset.
type fields struct {
	b    []byte
	base int
}

func (f fields) u8(off int) uint8 {
	return f.b[off-f.base]
}

func (f fields) bool(off int) bool {
	return f.b[off-f.base] != 0
}

func (f fields) u16(off int) uint16 {
	return protocol.ByteOrder.Uint16(f.b[off-f.base:])
}

func (f fields) u32(off int) uint32 {
	return protocol.ByteOrder.Uint32(f.b[off-f.base:])
}

func (f fields) i32(off int) int32 {
	return int32(f.u32(off))
}

func (f fields) f64(off int) float64 {
	return math.Float64frombits(protocol.ByteOrder.Uint64(f.b[off-f.base:]))
}

func decodeHeader(f fields) *Sample {
	return &Sample{
		Width:      f.u32(protocol.ImageWidthOffset),
		Height:     f.u32(protocol.ImageHeightOffset),
		BitDepth:   f.u8(protocol.BitDepthOffset),
		RaOffset:   f.f64(protocol.RaOffsetOffset),
		DecOffset:  f.f64(protocol.DecOffsetOffset),
		Snr:        f.f64(protocol.SnrOffset),
		Mass:       f.f64(protocol.MassOffset),
		RaPulseMs:  f.i32(protocol.RaPulseMsOffset),
		DecPulseMs: f.i32(protocol.DecPulseMsOffset),
		RaDir:      f.u8(protocol.RaDirCharOffset),
		DecDir:     f.u8(protocol.DecDirCharOffset),
		RmsX:       f.f64(protocol.RmsXOffset),
		RmsY:       f.f64(protocol.RmsYOffset),
		RmsTotal:   f.f64(protocol.RmsTotalOffset),
		PixelScale: f.f64(protocol.PixelScaleOffset),
		StarLost:   f.bool(protocol.StarLostOffset),
		InGuiding:  f.bool(protocol.InGuidingOffset),
	}
}

func decodeLockStar(f fields) LockStar {
	count := int(f.u8(protocol.StarCountOffset))
	if count > protocol.MaxStars {
		count = protocol.MaxStars
	}

	stars := make([]StarPoint, count)
	for i := range stars {
		stars[i] = StarPoint{
			X: f.u16(protocol.StarXsOffset + 2*i),
			Y: f.u16(protocol.StarYsOffset + 2*i),
		}
	}

	return LockStar{
		Selected:      f.bool(protocol.SelectedOffset),
		StarX:         f.f64(protocol.StarXOffset),
		StarY:         f.f64(protocol.StarYOffset),
		ShowLockCross: f.bool(protocol.ShowLockCrossOffset),
		LockX:         f.f64(protocol.LockXOffset),
		LockY:         f.f64(protocol.LockYOffset),
		Stars:         stars,
	}
}
