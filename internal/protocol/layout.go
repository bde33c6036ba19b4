package protocol

// LayoutVersion identifies the offset table below.
const LayoutVersion = 1

// Segment geometry.
const (
	// SegmentKey is the System V IPC key both processes attach with.
	SegmentKey = 0x90
	// SegmentSize holds one full guide-camera frame plus headers.
	SegmentSize = 16590848
	// SegmentPerm is the permission mask used when creating the segment.
	SegmentPerm = 0o666
)

// Request slot.
const (
	RequestSlotOffset = 0
	RequestSlotSize   = 1024

	BusyFlagOffset  = 0
	OpcodeMSBOffset = 1
	OpcodeLSBOffset = 2
	PayloadOffset   = 3

	// PayloadCapacity is the room left in the request slot after the header.
	PayloadCapacity = RequestSlotSize - PayloadOffset
)

// Busy flag values.
const (
	BusyIdle    byte = 0x00
	BusyPending byte = 0x01
)

// Telemetry header.
const (
	TelemetryHeaderOffset = 1024

	ImageWidthOffset      = 1024 // u32
	ImageHeightOffset     = 1028 // u32
	BitDepthOffset        = 1032 // u8
	InstructionWordOffset = 1033 // i32
	// 1037..1044 are the producer's legacy direction/duration slots.
	reservedInstructionOffset = 1037
	reservedInstructionSize   = 8
	TelemetryReadyFlagOffset  = 1045 // u8
	RaOffsetOffset            = 1046 // f64
	DecOffsetOffset           = 1054 // f64
	SnrOffset                 = 1062 // f64
	MassOffset                = 1070 // f64
	RaPulseMsOffset           = 1078 // i32
	DecPulseMsOffset          = 1082 // i32
	RaDirCharOffset           = 1086 // u8
	DecDirCharOffset          = 1087 // u8
	RmsXOffset                = 1088 // f64
	RmsYOffset                = 1096 // f64
	RmsTotalOffset            = 1104 // f64
	PixelScaleOffset          = 1112 // f64
	StarLostOffset            = 1120 // bool
	InGuidingOffset           = 1121 // bool
	TelemetryHeaderEnd        = 1122
)

// Lock star block.
const (
	LockStarOffset = 1224

	SelectedOffset      = 1224 // bool
	StarXOffset         = 1225 // f64
	StarYOffset         = 1233 // f64
	ShowLockCrossOffset = 1241 // bool
	LockXOffset         = 1242 // f64
	LockYOffset         = 1250 // f64
	StarCountOffset     = 1258 // u8
	StarXsOffset        = 1259 // [MaxStars]u16
	StarYsOffset        = 1323 // [MaxStars]u16
	LockStarEnd         = 1387

	MaxStars = 32
)

// Image region.
const (
	ImageReadyFlagOffset = 2047
	ImageBufferOffset    = 2048

	// ImageCapacity is the largest frame the segment can carry.
	ImageCapacity = SegmentSize - ImageBufferOffset
)

// Image ready flag values.
const (
	ImageSlotFree  byte = 0x00
	ImageAvailable byte = 0x02
)

// Field describes one entry of the offset table.
type Field struct {
	Name   string
	Offset int
	Size   int
}

// End returns the first byte past the field.
func (f Field) End() int {
	return f.Offset + f.Size
}

// TelemetryFields lists the telemetry header in wire order.
var TelemetryFields = []Field{
	{"ImageWidth", ImageWidthOffset, 4},
	{"ImageHeight", ImageHeightOffset, 4},
	{"BitDepth", BitDepthOffset, 1},
	{"InstructionWord", InstructionWordOffset, 4},
	{"Reserved", reservedInstructionOffset, reservedInstructionSize},
	{"TelemetryReadyFlag", TelemetryReadyFlagOffset, 1},
	{"RaOffset", RaOffsetOffset, 8},
	{"DecOffset", DecOffsetOffset, 8},
	{"Snr", SnrOffset, 8},
	{"Mass", MassOffset, 8},
	{"RaPulseMs", RaPulseMsOffset, 4},
	{"DecPulseMs", DecPulseMsOffset, 4},
	{"RaDirChar", RaDirCharOffset, 1},
	{"DecDirChar", DecDirCharOffset, 1},
	{"RmsX", RmsXOffset, 8},
	{"RmsY", RmsYOffset, 8},
	{"RmsTotal", RmsTotalOffset, 8},
	{"PixelScale", PixelScaleOffset, 8},
	{"StarLost", StarLostOffset, 1},
	{"InGuiding", InGuidingOffset, 1},
}

// LockStarFields lists the lock star block in wire order.
var LockStarFields = []Field{
	{"Selected", SelectedOffset, 1},
	{"StarX", StarXOffset, 8},
	{"StarY", StarYOffset, 8},
	{"ShowLockCross", ShowLockCrossOffset, 1},
	{"LockX", LockXOffset, 8},
	{"LockY", LockYOffset, 8},
	{"StarCount", StarCountOffset, 1},
	{"StarXs", StarXsOffset, 2 * MaxStars},
	{"StarYs", StarYsOffset, 2 * MaxStars},
}

// ImageSize returns the byte length of a frame, or 0 when the geometry is
// not one the segment can carry.
func ImageSize(width, height uint32, bitDepth uint8) int {
	if width == 0 || height == 0 || bitDepth == 0 || bitDepth%8 != 0 || bitDepth > 32 {
		return 0
	}
	size := uint64(width) * uint64(height) * uint64(bitDepth/8)
	if size > ImageCapacity {
		return 0
	}
	return int(size)
}
