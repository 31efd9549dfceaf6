package telemetry

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// CraftSample is the recorded state of one craft.
type CraftSample struct {
	ID              uint64     `msgpack:"id"`
	Name            string     `msgpack:"name"`
	Position        [3]float64 `msgpack:"pos"`
	Orientation     [4]float64 `msgpack:"rot"` // w, x, y, z
	LinearVelocity  [3]float64 `msgpack:"vel"`
	AngularVelocity [3]float64 `msgpack:"omega"`
	Phase           string     `msgpack:"phase"`
	Modes           []string   `msgpack:"modes,omitempty"`
	Duties          []float64  `msgpack:"duties,omitempty"`
}

// Sample is the recorded state of the simulation after one tick.
type Sample struct {
	Tick   uint64        `msgpack:"tick"`
	Time   float64       `msgpack:"t"`
	Crafts []CraftSample `msgpack:"crafts"`
}

// Recorder appends samples to a zstd-compressed msgpack stream.
type Recorder struct {
	zw    *zstd.Encoder
	enc   *msgpack.Encoder
	count int
}

// NewRecorder starts a recording on w. Close must be called to flush it.
func NewRecorder(w io.Writer) (*Recorder, error) {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %w", err)
	}
	return &Recorder{zw: zw, enc: msgpack.NewEncoder(zw)}, nil
}

// Record appends one sample.
func (r *Recorder) Record(s Sample) error {
	if err := r.enc.Encode(&s); err != nil {
		return fmt.Errorf("failed to encode sample %d: %w", s.Tick, err)
	}
	r.count++
	return nil
}

// Count returns the number of samples recorded.
func (r *Recorder) Count() int {
	return r.count
}

// Close flushes the compressed stream. It does not close the underlying
// writer.
func (r *Recorder) Close() error {
	if err := r.zw.Close(); err != nil {
		return fmt.Errorf("failed to close zstd writer: %w", err)
	}
	return nil
}

// ReadRecording decodes every sample of a recording.
func ReadRecording(r io.Reader) ([]Sample, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer zr.Close()

	dec := msgpack.NewDecoder(zr)
	var out []Sample
	for {
		var s Sample
		if err := dec.Decode(&s); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("failed to decode sample %d: %w", len(out), err)
		}
		out = append(out, s)
	}
}
