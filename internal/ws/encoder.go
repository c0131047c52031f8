package ws

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/slaclab/bsastream/internal/pulse"
)

// SnapshotFrame is one stream buffer snapshot on the wire.
type SnapshotFrame struct {
	Type       string      `json:"type"` // "snapshot"
	Name       string      `json:"name"`
	Channel    string      `json:"channel"`
	PulseID    pulse.ID    `json:"pulse_id"`
	SampleRate float64     `json:"sample_rate"`
	Values     FloatSeries `json:"values"`
}

// AlignedFrame is one aligned pair on the wire.
type AlignedFrame struct {
	Type    string      `json:"type"` // "aligned"
	Name    string      `json:"name"`
	PulseID pulse.ID    `json:"pulse_id"`
	Points  int         `json:"points"`
	A       FloatSeries `json:"a"`
	B       FloatSeries `json:"b"`
}

// Encoder converts frames to wire format (JSON + zstd). A 2800-point
// float64 snapshot compresses well enough that per-frame compression
// beats sending it raw even on the control network.
type Encoder struct {
	zstdEncoder *zstd.Encoder
}

// NewEncoder creates a new Encoder with zstd compression.
func NewEncoder() (*Encoder, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &Encoder{zstdEncoder: enc}, nil
}

// Encode marshals a frame and compresses it.
func (e *Encoder) Encode(frame interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	return e.zstdEncoder.EncodeAll(jsonData, nil), nil
}

// Close releases the underlying zstd encoder.
func (e *Encoder) Close() {
	e.zstdEncoder.Close()
}

// Decode decompresses and unmarshals a frame into dst. Used by the
// operator CLI and tests.
func Decode(payload []byte, dst interface{}) error {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	jsonData, err := dec.DecodeAll(payload, nil)
	if err != nil {
		return fmt.Errorf("decompress frame: %w", err)
	}
	if err := json.Unmarshal(jsonData, dst); err != nil {
		return fmt.Errorf("unmarshal frame: %w", err)
	}
	return nil
}
