package phdtest

import (
	"github.com/QHYCCD-QUARCS/guidelink/internal/channel"
	"github.com/QHYCCD-QUARCS/guidelink/internal/protocol"
)

// Frame is what the autoguider publishes after each exposure.
type Frame struct {
	Width, Height uint32
	BitDepth      uint8

	RaOffset, DecOffset   float64
	Snr, Mass             float64
	RaPulseMs, DecPulseMs int32
	RaDir, DecDir         byte
	RmsX, RmsY, RmsTotal  float64
	PixelScale            float64
	StarLost, InGuiding   bool

	Selected      bool
	StarX, StarY  float64
	ShowLockCross bool
	LockX, LockY  float64
	// StarCount is written as is; Stars beyond MaxStars are ignored.
	StarCount uint8
	Stars     [][2]uint16

	// Image is written at the buffer offset when non-nil.
	Image []byte
}

// WriteFrame publishes f and raises both ready flags, image flag last.
func WriteFrame(ch *channel.Channel, f Frame) error {
	if err := WriteHeader(ch, f); err != nil {
		return err
	}
	if f.Image != nil {
		if err := ch.WriteAt(protocol.ImageBufferOffset, f.Image); err != nil {
			return err
		}
	}
	if err := ch.WriteU8(protocol.TelemetryReadyFlagOffset, 1); err != nil {
		return err
	}
	return ch.WriteU8(protocol.ImageReadyFlagOffset, protocol.ImageAvailable)
}

// WriteHeader writes the telemetry header and lock star block without
// touching any flag.
func WriteHeader(ch *channel.Channel, f Frame) error {
	writes := []struct {
		off int
		b   []byte
	}{
		{protocol.ImageWidthOffset, protocol.EncodeU32(f.Width)},
		{protocol.ImageHeightOffset, protocol.EncodeU32(f.Height)},
		{protocol.BitDepthOffset, []byte{f.BitDepth}},
		{protocol.RaOffsetOffset, protocol.EncodeF64(f.RaOffset)},
		{protocol.DecOffsetOffset, protocol.EncodeF64(f.DecOffset)},
		{protocol.SnrOffset, protocol.EncodeF64(f.Snr)},
		{protocol.MassOffset, protocol.EncodeF64(f.Mass)},
		{protocol.RaPulseMsOffset, protocol.EncodeI32(f.RaPulseMs)},
		{protocol.DecPulseMsOffset, protocol.EncodeI32(f.DecPulseMs)},
		{protocol.RaDirCharOffset, []byte{f.RaDir}},
		{protocol.DecDirCharOffset, []byte{f.DecDir}},
		{protocol.RmsXOffset, protocol.EncodeF64(f.RmsX)},
		{protocol.RmsYOffset, protocol.EncodeF64(f.RmsY)},
		{protocol.RmsTotalOffset, protocol.EncodeF64(f.RmsTotal)},
		{protocol.PixelScaleOffset, protocol.EncodeF64(f.PixelScale)},
		{protocol.StarLostOffset, protocol.EncodeBool(f.StarLost)},
		{protocol.InGuidingOffset, protocol.EncodeBool(f.InGuiding)},
		{protocol.SelectedOffset, protocol.EncodeBool(f.Selected)},
		{protocol.StarXOffset, protocol.EncodeF64(f.StarX)},
		{protocol.StarYOffset, protocol.EncodeF64(f.StarY)},
		{protocol.ShowLockCrossOffset, protocol.EncodeBool(f.ShowLockCross)},
		{protocol.LockXOffset, protocol.EncodeF64(f.LockX)},
		{protocol.LockYOffset, protocol.EncodeF64(f.LockY)},
		{protocol.StarCountOffset, []byte{f.StarCount}},
	}
	for _, w := range writes {
		if err := ch.WriteAt(w.off, w.b); err != nil {
			return err
		}
	}

	for i, s := range f.Stars {
		if i >= protocol.MaxStars {
			break
		}
		if err := ch.WriteAt(protocol.StarXsOffset+2*i, encodeU16(s[0])); err != nil {
			return err
		}
		if err := ch.WriteAt(protocol.StarYsOffset+2*i, encodeU16(s[1])); err != nil {
			return err
		}
	}
	return nil
}

// PostInstruction writes a relay instruction word.
func PostInstruction(ch *channel.Channel, sequence uint8, direction, durationMs uint16) error {
	word := protocol.EncodeInstruction(protocol.Instruction{
		Sequence:   sequence,
		Direction:  direction,
		DurationMs: durationMs,
	})
	return ch.WriteI32(protocol.InstructionWordOffset, word)
}

func encodeU16(v uint16) []byte {
	b := make([]byte, 2)
	protocol.ByteOrder.PutUint16(b, v)
	return b
}
