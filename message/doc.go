// Package message implements the OSDP frame codec used by the control panel bus.
//
// # Frame Layout
//
// Every command and reply shares the same envelope:
//
//	SOM(0x53) ADDR LEN_LSB LEN_MSB CTRL [SCB...] CODE [DATA...] [MAC(4)] CKSUM | CRC_LSB CRC_MSB
//
//   - ADDR is the peripheral address; replies set bit 0x80.
//   - LEN is the little-endian total frame length, SOM through the check field.
//   - CTRL holds the sequence number (bits 0-1), the CRC flag (bit 2) and the
//     security-control-block flag (bit 3).
//   - SCB is the optional security control block (length, type, data).
//   - MAC is present for the SCS_15..SCS_18 secure message types.
//
// The bus inspects only SOM and LEN while framing; everything else is handled here.
// BuildCommand encodes an outgoing command for a device session and ParseReply decodes
// an assembled reply frame, reporting checksum/CRC failures through Reply.IsValid.
package message
