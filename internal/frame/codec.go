package frame

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"
)

// depthRecord is the on-disk shape of a depth frame snapshot. Gob needs
// exported fields, so the immutable frame is flattened into this record
// for encoding and rebuilt through NewDepthFrame on decode.
type depthRecord struct {
	SensorID   string
	FrameID    uint64
	TakenNanos int64
	Width      int
	Height     int
	DepthMM    []float32
	Valid      []bool
}

// EncodeDepthFrame serializes a depth frame to a gzip-compressed gob blob,
// the format the store keeps operator-triggered frame snapshots in.
func EncodeDepthFrame(f *DepthFrame) ([]byte, error) {
	rec := depthRecord{
		SensorID:   f.sensorID,
		FrameID:    f.frameID,
		TakenNanos: f.takenNs,
		Width:      f.width,
		Height:     f.height,
		DepthMM:    f.depth,
		Valid:      f.valid,
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := gob.NewEncoder(gz).Encode(&rec); err != nil {
		return nil, fmt.Errorf("encode depth frame: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("compress depth frame: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeDepthFrame rebuilds a depth frame from a blob produced by
// EncodeDepthFrame.
func DecodeDepthFrame(blob []byte) (*DepthFrame, error) {
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("decompress depth frame: %w", err)
	}
	defer gz.Close()

	var rec depthRecord
	if err := gob.NewDecoder(gz).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode depth frame: %w", err)
	}
	return NewDepthFrame(rec.SensorID, rec.FrameID, rec.TakenNanos, rec.Width, rec.Height, rec.DepthMM, rec.Valid)
}
