// Package protocol defines the binary contract shared with the external
// autoguider process.
//
// The contract is one fixed-size memory segment split into regions:
//
//	[0, 1024)       request slot: busy flag, opcode (MSB, LSB), payload/response
//	[1024, 1224)    telemetry header: image geometry, relay instruction, guide error
//	[1224, 1387)    lock star block: selection, lock position, multi-star list
//	2047            image ready flag (0x00 free, 0x02 new frame)
//	[2048, ...)     raw preview image, row-major
//
// Every multi-byte field is little-endian and byte-packed. Offsets are
// declared once in layout.go; nothing else in the module computes them.
//
// Layout Version:
//   - 1: offsets as shipped with the PHD2 shared-memory bridge
//
// Instruction Word:
//
//	bits 31..24  sequence (nonzero while an instruction is unacknowledged)
//	bits 23..12  direction code
//	bits 11..0   pulse duration in milliseconds (0 = nothing pending)
package protocol
