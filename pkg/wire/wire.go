// Package wire implements the data-plane framing shared by UASP and UASP2
// (spec.md §4.5): a 16-byte big-endian header followed by
// channel-interleaved big-endian float32 samples. The header packing
// mirrors the encoding/binary field-at-a-time style the corpus uses for
// its own binary protocol headers (compare
// doismellburning-samoyed/src/server.go's AGWPE header packing and
// OcupointInc-QC_Software/stream_loop_linux.go's binary.LittleEndian
// sample packing), applied here with the big-endian byte order and field
// layout the spec's wire format calls for.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// HeaderSize is the fixed size, in bytes, of a data-plane frame header.
const HeaderSize = 16

// FrameHeader is the 16-byte header prefixing every stream/odata frame.
type FrameHeader struct {
	TimestampUs uint64
	Seqno       uint32
	NSamples    uint16
	NChannels   uint16
}

// Encode packs the header into its 16-byte wire representation.
func (h FrameHeader) Encode() []byte {
	b := make([]byte, HeaderSize)
	binary.BigEndian.PutUint64(b[0:8], h.TimestampUs)
	binary.BigEndian.PutUint32(b[8:12], h.Seqno)
	binary.BigEndian.PutUint16(b[12:14], h.NSamples)
	binary.BigEndian.PutUint16(b[14:16], h.NChannels)
	return b
}

// DecodeHeader unpacks a 16-byte wire header.
func DecodeHeader(b []byte) (FrameHeader, error) {
	if len(b) < HeaderSize {
		return FrameHeader{}, fmt.Errorf("wire: short header (%d bytes)", len(b))
	}
	return FrameHeader{
		TimestampUs: binary.BigEndian.Uint64(b[0:8]),
		Seqno:       binary.BigEndian.Uint32(b[8:12]),
		NSamples:    binary.BigEndian.Uint16(b[12:14]),
		NChannels:   binary.BigEndian.Uint16(b[14:16]),
	}, nil
}

// Matrix is a (channel x sample) signal buffer: Matrix[ch] holds one
// hydrophone's or transmit-channel's samples. The wire format is
// channel-interleaved per time step (channel minor axis); Matrix keeps
// channel as the major axis in memory because every internal consumer
// (SignalTape.Append, PropagationAdapter) wants one channel's samples as
// a contiguous slice.
type Matrix [][]float32

// NewMatrix allocates a zeroed Matrix with the given channel and sample
// counts.
func NewMatrix(channels, samples int) Matrix {
	m := make(Matrix, channels)
	for c := range m {
		m[c] = make([]float32, samples)
	}
	return m
}

// Channels returns the number of channels (rows) in the matrix.
func (m Matrix) Channels() int { return len(m) }

// Samples returns the number of samples (columns) per channel.
func (m Matrix) Samples() int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}

// Interleave flattens the matrix into channel-interleaved wire order:
// [c0t0, c1t0, ..., cC-1t0, c0t1, ...].
func (m Matrix) Interleave() []float32 {
	c := m.Channels()
	n := m.Samples()
	out := make([]float32, c*n)
	for t := 0; t < n; t++ {
		for ch := 0; ch < c; ch++ {
			out[t*c+ch] = m[ch][t]
		}
	}
	return out
}

// Deinterleave rebuilds a channel-major Matrix from a channel-interleaved
// flat sample slice. len(flat) must be a multiple of channels.
func Deinterleave(flat []float32, channels int) (Matrix, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("wire: deinterleave: channels must be positive, got %d", channels)
	}
	if len(flat)%channels != 0 {
		return nil, fmt.Errorf("wire: deinterleave: %d samples not a multiple of %d channels", len(flat), channels)
	}
	n := len(flat) / channels
	m := NewMatrix(channels, n)
	for t := 0; t < n; t++ {
		for ch := 0; ch < channels; ch++ {
			m[ch][t] = flat[t*channels+ch]
		}
	}
	return m, nil
}

// EncodeFrame packs a header and matrix into one wire frame.
func EncodeFrame(h FrameHeader, m Matrix) []byte {
	flat := m.Interleave()
	buf := make([]byte, HeaderSize+4*len(flat))
	copy(buf, h.Encode())
	for i, s := range flat {
		binary.BigEndian.PutUint32(buf[HeaderSize+4*i:], math.Float32bits(s))
	}
	return buf
}

// DecodeFrame unpacks a wire frame into its header and matrix.
func DecodeFrame(buf []byte) (FrameHeader, Matrix, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return FrameHeader{}, nil, err
	}
	nfloat := int(h.NSamples) * int(h.NChannels)
	if len(buf) < HeaderSize+4*nfloat {
		return FrameHeader{}, nil, fmt.Errorf("wire: short frame body: need %d bytes, have %d", 4*nfloat, len(buf)-HeaderSize)
	}
	flat := make([]float32, nfloat)
	for i := range flat {
		flat[i] = math.Float32frombits(binary.BigEndian.Uint32(buf[HeaderSize+4*i:]))
	}
	m, err := Deinterleave(flat, int(h.NChannels))
	if err != nil {
		return FrameHeader{}, nil, err
	}
	return h, m, nil
}
