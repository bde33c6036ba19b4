package protocol

import "fmt"

// Instruction word bit layout.
const (
	SequenceShift  = 24
	SequenceMask   = 0xFF
	DirectionShift = 12
	DirectionMask  = 0xFFF
	DurationMask   = 0xFFF

	// MaxDurationMs is the longest pulse the word can carry.
	MaxDurationMs = DurationMask
)

// Instruction is a decoded relay instruction.
type Instruction struct {
	Sequence   uint8
	Direction  uint16
	DurationMs uint16
}

// Pending reports whether the instruction asks for a pulse.
func (i Instruction) Pending() bool {
	return i.DurationMs != 0
}

func (i Instruction) String() string {
	return fmt.Sprintf("seq=%d dir=%d dur=%dms", i.Sequence, i.Direction, i.DurationMs)
}

// DecodeInstruction unpacks a raw instruction word.
func DecodeInstruction(word int32) Instruction {
	w := uint32(word)
	return Instruction{
		Sequence:   uint8((w >> SequenceShift) & SequenceMask),
		Direction:  uint16((w >> DirectionShift) & DirectionMask),
		DurationMs: uint16(w & DurationMask),
	}
}

// EncodeInstruction packs an instruction into its wire form. Direction and
// duration are truncated to 12 bits.
func EncodeInstruction(i Instruction) int32 {
	w := uint32(i.Sequence)<<SequenceShift |
		(uint32(i.Direction)&DirectionMask)<<DirectionShift |
		uint32(i.DurationMs)&DurationMask
	return int32(w)
}
