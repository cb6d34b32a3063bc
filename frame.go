package plasmite

import (
	"encoding/binary"
	"time"
)

// Lite3Frame is the binary (non-JSON) message representation: a fixed
// little-endian header followed by a length-prefixed payload. The
// layout mirrors plsm_lite3_frame_t in the C ABI and is stable; do not
// re-derive it.
//
//	offset  size  field
//	0       8     seq (u64)
//	8       8     timestamp_ns (u64)
//	16      4     flags (u32)
//	20      4     payload length (u32)
//	24      n     payload
type Lite3Frame struct {
	Seq         uint64
	TimestampNs uint64
	Flags       uint32
	Payload     []byte
}

const lite3HeaderSize = 8 + 8 + 4 + 4

// Time converts the frame timestamp to UTC wall-clock time.
func (f *Lite3Frame) Time() time.Time {
	if f == nil {
		return time.Time{}
	}
	return time.Unix(0, int64(f.TimestampNs)).UTC()
}

// MarshalBinary encodes the frame in the fixed wire layout.
func (f *Lite3Frame) MarshalBinary() ([]byte, error) {
	buf := make([]byte, lite3HeaderSize+len(f.Payload))
	binary.LittleEndian.PutUint64(buf[0:8], f.Seq)
	binary.LittleEndian.PutUint64(buf[8:16], f.TimestampNs)
	binary.LittleEndian.PutUint32(buf[16:20], f.Flags)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(len(f.Payload)))
	copy(buf[lite3HeaderSize:], f.Payload)
	return buf, nil
}

// UnmarshalBinary decodes a frame from the fixed wire layout. It fails
// with ErrInvalidArgument on a truncated header or a payload shorter
// than its length prefix; trailing bytes beyond the prefix are
// rejected too, since frames are exchanged one per record.
func (f *Lite3Frame) UnmarshalBinary(data []byte) error {
	if len(data) < lite3HeaderSize {
		return InvalidArgumentError("lite3 frame truncated")
	}
	payloadLen := binary.LittleEndian.Uint32(data[20:24])
	if uint64(len(data)) != uint64(lite3HeaderSize)+uint64(payloadLen) {
		return InvalidArgumentError("lite3 frame payload length mismatch")
	}
	f.Seq = binary.LittleEndian.Uint64(data[0:8])
	f.TimestampNs = binary.LittleEndian.Uint64(data[8:16])
	f.Flags = binary.LittleEndian.Uint32(data[16:20])
	f.Payload = append([]byte(nil), data[lite3HeaderSize:]...)
	return nil
}
