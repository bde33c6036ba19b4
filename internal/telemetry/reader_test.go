package telemetry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QHYCCD-QUARCS/guidelink/internal/channel"
	"github.com/QHYCCD-QUARCS/guidelink/internal/phdtest"
	"github.com/QHYCCD-QUARCS/guidelink/internal/protocol"
)

func guidingFrame() phdtest.Frame {
	img := make([]byte, 640*480*2)
	for i := range img {
		img[i] = byte(i % 251)
	}
	return phdtest.Frame{
		Width:         640,
		Height:        480,
		BitDepth:      16,
		RaOffset:      0.42,
		DecOffset:     -0.17,
		Snr:           23.5,
		Mass:          18000,
		RaPulseMs:     120,
		DecPulseMs:    0,
		RaDir:         'E',
		DecDir:        'N',
		RmsX:          0.31,
		RmsY:          0.28,
		RmsTotal:      0.42,
		PixelScale:    1.9,
		InGuiding:     true,
		Selected:      true,
		StarX:         320.5,
		StarY:         240.25,
		ShowLockCross: true,
		LockX:         320,
		LockY:         240,
		StarCount:     3,
		Stars:         [][2]uint16{{320, 240}, {100, 50}, {600, 400}},
		Image:         img,
	}
}

func readFlags(t *testing.T, ch *channel.Channel) (telemetry, image byte) {
	t.Helper()
	telemetry, err := ch.ReadU8(protocol.TelemetryReadyFlagOffset)
	require.NoError(t, err)
	image, err = ch.ReadU8(protocol.ImageReadyFlagOffset)
	require.NoError(t, err)
	return telemetry, image
}

func TestPollNoFrame(t *testing.T) {
	ch := phdtest.NewMemoryChannel()
	r := NewReader(ch)

	s, err := r.Poll()
	assert.NoError(t, err)
	assert.Nil(t, s)
}

func TestPollFrame(t *testing.T) {
	ch := phdtest.NewMemoryChannel()
	r := NewReader(ch)
	f := guidingFrame()
	require.NoError(t, phdtest.WriteFrame(ch, f))

	s, err := r.Poll()
	require.NoError(t, err)
	require.NotNil(t, s)

	assert.Equal(t, uint32(640), s.Width)
	assert.Equal(t, uint32(480), s.Height)
	assert.Equal(t, uint8(16), s.BitDepth)
	assert.Len(t, s.Image, 614400)
	assert.Equal(t, f.Image, s.Image)
	assert.Equal(t, 640*480, s.Pixels())

	assert.Equal(t, 0.42, s.RaOffset)
	assert.Equal(t, -0.17, s.DecOffset)
	assert.Equal(t, 23.5, s.Snr)
	assert.Equal(t, 18000.0, s.Mass)
	assert.Equal(t, int32(120), s.RaPulseMs)
	assert.Equal(t, byte('E'), s.RaDir)
	assert.Equal(t, byte('N'), s.DecDir)
	assert.Equal(t, 0.42, s.RmsTotal)
	assert.Equal(t, 1.9, s.PixelScale)
	assert.Equal(t, PhaseGuiding, s.Phase)
	assert.False(t, s.StarLost)
	assert.False(t, s.StarLostAlert)
	assert.NotEmpty(t, s.ID)

	assert.True(t, s.Lock.Selected)
	assert.Equal(t, 320.5, s.Lock.StarX)
	assert.Equal(t, 240.25, s.Lock.StarY)
	assert.True(t, s.Lock.ShowLockCross)
	assert.Equal(t, []StarPoint{{320, 240}, {100, 50}, {600, 400}}, s.Lock.Stars)

	telemetry, image := readFlags(t, ch)
	assert.Equal(t, byte(0), telemetry)
	assert.Equal(t, protocol.ImageSlotFree, image)

	// Slot handed back: nothing more until the next frame.
	s, err = r.Poll()
	assert.NoError(t, err)
	assert.Nil(t, s)
}

func TestPollCalibratingPhase(t *testing.T) {
	ch := phdtest.NewMemoryChannel()
	r := NewReader(ch)
	f := guidingFrame()
	f.InGuiding = false
	require.NoError(t, phdtest.WriteFrame(ch, f))

	s, err := r.Poll()
	require.NoError(t, err)
	assert.Equal(t, PhaseCalibrating, s.Phase)
	assert.Equal(t, "calibrating", s.Phase.String())
}

func TestPollDesyncFlag(t *testing.T) {
	ch := phdtest.NewMemoryChannel()
	r := NewReader(ch)
	require.NoError(t, phdtest.WriteHeader(ch, guidingFrame()))
	require.NoError(t, ch.WriteU8(protocol.ImageReadyFlagOffset, 0x01))

	s, err := r.Poll()
	assert.Nil(t, s)
	assert.ErrorIs(t, err, protocol.ErrProtocolDesync)

	var desync *protocol.DesyncError
	require.True(t, errors.As(err, &desync))
	assert.Equal(t, protocol.ImageReadyFlagOffset, desync.Offset)
	assert.Equal(t, byte(0x01), desync.Value)
}

func TestPollMalformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *phdtest.Frame)
	}{
		{"zero width", func(f *phdtest.Frame) { f.Width = 0 }},
		{"zero height", func(f *phdtest.Frame) { f.Height = 0 }},
		{"zero depth", func(f *phdtest.Frame) { f.BitDepth = 0 }},
		{"odd depth", func(f *phdtest.Frame) { f.BitDepth = 12 }},
		{"larger than buffer", func(f *phdtest.Frame) { f.Width, f.Height = 10000, 10000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := phdtest.NewMemoryChannel()
			r := NewReader(ch)
			f := guidingFrame()
			f.Image = nil
			tt.mutate(&f)
			require.NoError(t, phdtest.WriteFrame(ch, f))

			s, err := r.Poll()
			assert.Nil(t, s)
			assert.ErrorIs(t, err, protocol.ErrMalformedTelemetry)

			// No flag touched.
			telemetry, image := readFlags(t, ch)
			assert.Equal(t, byte(1), telemetry)
			assert.Equal(t, protocol.ImageAvailable, image)
		})
	}
}

// overwritingSegment simulates the producer replacing the frame while it is
// being copied.
type overwritingSegment struct {
	*channel.Memory
	flag byte
}

func (s *overwritingSegment) ReadAt(offset, n int) ([]byte, error) {
	b, err := s.Memory.ReadAt(offset, n)
	if err == nil && offset == protocol.ImageBufferOffset {
		_ = s.Memory.WriteAt(protocol.ImageReadyFlagOffset, []byte{s.flag})
	}
	return b, err
}

func TestPollFlagChangedDuringCopy(t *testing.T) {
	seg := &overwritingSegment{Memory: channel.NewMemory(protocol.SegmentSize), flag: 0x03}
	ch := channel.New(seg)
	require.NoError(t, ch.Attach())
	require.NoError(t, phdtest.WriteFrame(ch, guidingFrame()))

	r := NewReader(ch)
	s, err := r.Poll()
	assert.Nil(t, s)
	assert.ErrorIs(t, err, protocol.ErrProtocolDesync)

	// The slot is left as the producer set it.
	_, image := readFlags(t, ch)
	assert.Equal(t, byte(0x03), image)
}

func TestPollDetached(t *testing.T) {
	ch := channel.New(channel.NewMemory(protocol.SegmentSize))
	r := NewReader(ch)

	_, err := r.Poll()
	assert.ErrorIs(t, err, channel.ErrNotAttached)
}

func TestStarLostAlertLatch(t *testing.T) {
	ch := phdtest.NewMemoryChannel()
	r := NewReader(ch)

	lost := guidingFrame()
	lost.StarLost = true
	require.NoError(t, phdtest.WriteFrame(ch, lost))

	s, err := r.Poll()
	require.NoError(t, err)
	assert.True(t, s.StarLost)
	assert.True(t, s.StarLostAlert)
	assert.True(t, r.StarLostAlert())

	// Stays latched while no new sample arrives.
	_, err = r.Poll()
	require.NoError(t, err)
	assert.True(t, r.StarLostAlert())

	require.NoError(t, phdtest.WriteFrame(ch, guidingFrame()))
	_, err = r.Poll()
	require.NoError(t, err)
	assert.False(t, r.StarLostAlert())

	require.NoError(t, phdtest.WriteFrame(ch, lost))
	_, err = r.Poll()
	require.NoError(t, err)
	r.ClearStarLostAlert()
	assert.False(t, r.StarLostAlert())
}

func TestStarCountClamped(t *testing.T) {
	ch := phdtest.NewMemoryChannel()
	r := NewReader(ch)
	f := guidingFrame()
	f.StarCount = 200
	require.NoError(t, phdtest.WriteFrame(ch, f))

	s, err := r.Poll()
	require.NoError(t, err)
	assert.Len(t, s.Lock.Stars, protocol.MaxStars)
}

func TestSecondaryStars(t *testing.T) {
	stars := make([]StarPoint, 20)
	for i := range stars {
		stars[i] = StarPoint{X: uint16(i), Y: uint16(i)}
	}

	tests := []struct {
		name  string
		stars []StarPoint
		want  []StarPoint
	}{
		{"none", nil, nil},
		{"lock star only", stars[:1], nil},
		{"few", stars[:4], stars[1:4]},
		{"capped", stars, stars[1:13]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Sample{Lock: LockStar{Stars: tt.stars}}
			assert.Equal(t, tt.want, s.SecondaryStars())
		})
	}
}

func TestScatterPoint(t *testing.T) {
	tests := []struct {
		name     string
		ra, dec  float64
		wantX    float64
		wantY    float64
		wantOkay bool
	}{
		{"both set", 0.5, -0.25, -1.0, -0.5, true},
		{"ra zero", 0, 0.3, 0, 0, false},
		{"dec zero", 0.3, 0, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Sample{RaOffset: tt.ra, DecOffset: tt.dec, PixelScale: 2}
			x, y, ok := s.ScatterPoint()
			assert.Equal(t, tt.wantOkay, ok)
			assert.Equal(t, tt.wantX, x)
			assert.Equal(t, tt.wantY, y)
		})
	}
}
