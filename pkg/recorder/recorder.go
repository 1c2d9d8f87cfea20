// Package recorder implements opt-in Parquet capture of a node's ADC
// stream, for offline inspection of a simulation run. DAC bursts are
// not recorded.
//
// The schema and writer-construction shape follow parquet_writer.go's
// CaptureSample/NewParquetWriter/WriteRawBuffer trio, generalized from a
// fixed 8-channel I/Q row to a per-sample row sized to a node's
// hydrophone count, and from raw int16 L/E decoding to the module's own
// float32 wire.Matrix blocks.
package recorder

import (
	"fmt"
	"io"

	"github.com/segmentio/parquet-go"

	"github.com/vaosim/virtualacousticocean/pkg/wire"
)

// Sample is one recorded row: a single hydrophone's value at one sample
// offset within a delivered ADC block.
type Sample struct {
	TimestampUs int64   `parquet:"timestamp_us"`
	Seqno       uint64  `parquet:"seqno"`
	Hydrophone  int32   `parquet:"hydrophone"`
	SampleIndex int32   `parquet:"sample_index"`
	Value       float32 `parquet:"value"`
}

// Recorder writes Sample rows to an underlying Parquet file.
type Recorder struct {
	closer io.Closer
	writer *parquet.GenericWriter[Sample]
}

// New wraps w in a Recorder. meta is attached as Parquet key/value
// metadata (e.g. node id, sample rate) for later identification of the
// file's provenance.
func New(w io.WriteCloser, meta map[string]string) *Recorder {
	opts := make([]parquet.WriterOption, 0, len(meta))
	for k, v := range meta {
		opts = append(opts, parquet.KeyValueMetadata(k, v))
	}
	return &Recorder{
		closer: w,
		writer: parquet.NewGenericWriter[Sample](w, opts...),
	}
}

// WriteBlock records one delivered ADC block: block[h][i] becomes one
// row with hydrophone h, sample_index i, timestamped at tUs (the
// block's start).
func (r *Recorder) WriteBlock(tUs int64, seqno uint64, block wire.Matrix) error {
	rows := make([]Sample, 0, block.Channels()*block.Samples())
	for h, row := range block {
		for i, v := range row {
			rows = append(rows, Sample{
				TimestampUs: tUs,
				Seqno:       seqno,
				Hydrophone:  int32(h),
				SampleIndex: int32(i),
				Value:       v,
			})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	if _, err := r.writer.Write(rows); err != nil {
		return fmt.Errorf("recorder: write block: %w", err)
	}
	return nil
}

// Close flushes and closes the Parquet writer and the underlying file.
func (r *Recorder) Close() error {
	if err := r.writer.Close(); err != nil {
		r.closer.Close()
		return fmt.Errorf("recorder: close writer: %w", err)
	}
	return r.closer.Close()
}
