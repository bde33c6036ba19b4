// Package telemetry consumes the guide telemetry and preview frames the
// autoguider publishes into the shared segment.
//
// The image ready flag at offset 2047 is the handshake: 0x02 means a frame
// and its header are ready, 0x00 means the slot is free. The reader copies
// header, lock star block and image, then hands the slot back by writing
// 0x00. The telemetry ready flag at offset 1045 is cleared on every read but
// nothing waits on it.
package telemetry
