package protocol

import "fmt"

// Opcode selects which command a request encodes.
type Opcode uint16

// Opcodes understood by the autoguider. Values are part of the wire contract.
const (
	OpGetVersion         Opcode = 0x01
	OpClearCalibration   Opcode = 0x02
	OpStartLooping       Opcode = 0x03
	OpStopLooping        Opcode = 0x04
	OpAutoFindStar       Opcode = 0x05
	OpStartGuiding       Opcode = 0x06
	OpCheckStatus        Opcode = 0x07
	OpSetExposureTime    Opcode = 0x0b
	OpSelectCamera       Opcode = 0x0d
	OpCheckControlAck    Opcode = 0x0e
	OpStarClick          Opcode = 0x0f
	OpSetFocalLength     Opcode = 0x10
	OpSetMultiStar       Opcode = 0x11
	OpSetPixelSize       Opcode = 0x12
	OpSetGain            Opcode = 0x13
	OpSetCalibrationStep Opcode = 0x14
	OpSetRaAggression    Opcode = 0x15
	OpSetDecAggression   Opcode = 0x16
)

// ResponseKind describes what the responder leaves in the response window.
type ResponseKind int

const (
	// ResponseAck carries no data; success is the busy flag clearing.
	ResponseAck ResponseKind = iota
	// ResponseString is a u16 length followed by ASCII bytes.
	ResponseString
	// ResponseStatus is a single status byte.
	ResponseStatus
)

var opcodeNames = map[Opcode]string{
	OpGetVersion:         "GetVersion",
	OpClearCalibration:   "ClearCalibration",
	OpStartLooping:       "StartLooping",
	OpStopLooping:        "StopLooping",
	OpAutoFindStar:       "AutoFindStar",
	OpStartGuiding:       "StartGuiding",
	OpCheckStatus:        "CheckStatus",
	OpSetExposureTime:    "SetExposureTime",
	OpSelectCamera:       "SelectCamera",
	OpCheckControlAck:    "CheckControlAck",
	OpStarClick:          "StarClick",
	OpSetFocalLength:     "SetFocalLength",
	OpSetMultiStar:       "SetMultiStar",
	OpSetPixelSize:       "SetPixelSize",
	OpSetGain:            "SetGain",
	OpSetCalibrationStep: "SetCalibrationStep",
	OpSetRaAggression:    "SetRaAggression",
	OpSetDecAggression:   "SetDecAggression",
}

// String returns the opcode name
func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Opcode(0x%02x)", uint16(o))
}

// Known reports whether the opcode is part of the table.
func (o Opcode) Known() bool {
	_, ok := opcodeNames[o]
	return ok
}

// MSB returns the high byte written at OpcodeMSBOffset.
func (o Opcode) MSB() byte {
	return byte(o >> 8)
}

// LSB returns the low byte written at OpcodeLSBOffset.
func (o Opcode) LSB() byte {
	return byte(o)
}

// OpcodeFromBytes reassembles an opcode from the two header bytes.
func OpcodeFromBytes(msb, lsb byte) Opcode {
	return Opcode(uint16(msb)<<8 | uint16(lsb))
}

// Response returns the response schema of the opcode.
func (o Opcode) Response() ResponseKind {
	switch o {
	case OpGetVersion:
		return ResponseString
	case OpCheckStatus:
		return ResponseStatus
	default:
		return ResponseAck
	}
}
