package sensor

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/relief-labs/topobox/internal/frame"
)

// Depth datagram format, little endian. Each packet carries a run of
// complete rows so a lost packet costs rows, not the frame:
//
//	0:4   magic "TBX1"
//	4:8   frame id
//	8:10  first row in this chunk
//	10:12 row count
//	12:14 frame width
//	14:16 frame height
//	16:   row count * width uint16 depths in mm, 0 = invalid
const (
	chunkMagic      = "TBX1"
	ChunkHeaderSize = 16
)

// Chunk is one parsed depth datagram.
type Chunk struct {
	FrameID  uint32
	RowStart int
	RowCount int
	Width    int
	Height   int
	Depth    []uint16
}

// ParseChunk validates and decodes one datagram payload.
func ParseChunk(b []byte) (*Chunk, error) {
	if len(b) < ChunkHeaderSize {
		return nil, fmt.Errorf("depth chunk too short: %d bytes", len(b))
	}
	if string(b[0:4]) != chunkMagic {
		return nil, fmt.Errorf("bad depth chunk magic %q", b[0:4])
	}
	c := &Chunk{
		FrameID:  binary.LittleEndian.Uint32(b[4:8]),
		RowStart: int(binary.LittleEndian.Uint16(b[8:10])),
		RowCount: int(binary.LittleEndian.Uint16(b[10:12])),
		Width:    int(binary.LittleEndian.Uint16(b[12:14])),
		Height:   int(binary.LittleEndian.Uint16(b[14:16])),
	}
	if c.Width < 1 || c.Height < 1 {
		return nil, fmt.Errorf("bad depth chunk geometry %dx%d", c.Width, c.Height)
	}
	if c.RowCount < 1 || c.RowStart+c.RowCount > c.Height {
		return nil, fmt.Errorf("depth chunk rows %d+%d outside frame height %d", c.RowStart, c.RowCount, c.Height)
	}
	want := ChunkHeaderSize + c.RowCount*c.Width*2
	if len(b) != want {
		return nil, fmt.Errorf("depth chunk payload is %d bytes, want %d", len(b), want)
	}
	c.Depth = make([]uint16, c.RowCount*c.Width)
	for i := range c.Depth {
		c.Depth[i] = binary.LittleEndian.Uint16(b[ChunkHeaderSize+2*i:])
	}
	return c, nil
}

// EncodeFrameChunks splits a frame into datagrams of up to
// rowsPerChunk rows each. Invalid cells and depths outside the uint16
// range encode as 0. The replay tooling and the test sender share
// this with the wire format's producers.
func EncodeFrameChunks(f *frame.DepthFrame, rowsPerChunk int) [][]byte {
	if rowsPerChunk < 1 {
		rowsPerChunk = 1
	}
	w, h := f.Width(), f.Height()
	var chunks [][]byte
	for rowStart := 0; rowStart < h; rowStart += rowsPerChunk {
		rows := rowsPerChunk
		if rowStart+rows > h {
			rows = h - rowStart
		}
		b := make([]byte, ChunkHeaderSize+rows*w*2)
		copy(b[0:4], chunkMagic)
		binary.LittleEndian.PutUint32(b[4:8], uint32(f.FrameID()))
		binary.LittleEndian.PutUint16(b[8:10], uint16(rowStart))
		binary.LittleEndian.PutUint16(b[10:12], uint16(rows))
		binary.LittleEndian.PutUint16(b[12:14], uint16(w))
		binary.LittleEndian.PutUint16(b[14:16], uint16(h))
		for y := 0; y < rows; y++ {
			for x := 0; x < w; x++ {
				var mm uint16
				if z, ok := f.At(x, rowStart+y); ok {
					if r := math.Round(float64(z)); r >= 1 && r <= 65535 {
						mm = uint16(r)
					}
				}
				binary.LittleEndian.PutUint16(b[ChunkHeaderSize+2*(y*w+x):], mm)
			}
		}
		chunks = append(chunks, b)
	}
	return chunks
}

// Assembler rebuilds frames from row chunks. A chunk for a new frame
// id preempts an incomplete frame: whatever rows arrived are emitted
// as a best-effort frame with the gaps invalid, matching the poll
// contract that partial data beats no data.
type Assembler struct {
	sensorID string

	frameID   uint32
	width     int
	height    int
	depth     []float32
	valid     []bool
	rowSeen   []bool
	rowsSeen  int
	startedNs int64
	active    bool
}

func NewAssembler(sensorID string) *Assembler {
	return &Assembler{sensorID: sensorID}
}

// Add merges one chunk and returns any frames it finished: possibly a
// preempted best-effort frame, possibly the completed frame the chunk
// belongs to, in arrival order.
func (a *Assembler) Add(c *Chunk, nowNs int64) []*frame.DepthFrame {
	var out []*frame.DepthFrame

	if a.active && (c.FrameID != a.frameID || c.Width != a.width || c.Height != a.height) {
		if f := a.flush(); f != nil {
			out = append(out, f)
		}
	}
	if !a.active {
		a.frameID = c.FrameID
		a.width = c.Width
		a.height = c.Height
		a.depth = make([]float32, c.Width*c.Height)
		a.valid = make([]bool, c.Width*c.Height)
		a.rowSeen = make([]bool, c.Height)
		a.rowsSeen = 0
		a.startedNs = nowNs
		a.active = true
	}

	for y := 0; y < c.RowCount; y++ {
		row := c.RowStart + y
		if !a.rowSeen[row] {
			a.rowSeen[row] = true
			a.rowsSeen++
		}
		for x := 0; x < c.Width; x++ {
			mm := c.Depth[y*c.Width+x]
			i := row*c.Width + x
			if mm > 0 {
				a.depth[i] = float32(mm)
				a.valid[i] = true
			} else {
				a.depth[i] = 0
				a.valid[i] = false
			}
		}
	}

	if a.rowsSeen == a.height {
		if f := a.flush(); f != nil {
			out = append(out, f)
		}
	}
	return out
}

// flush emits the frame under assembly, rows never seen staying
// invalid, and resets.
func (a *Assembler) flush() *frame.DepthFrame {
	if !a.active || a.rowsSeen == 0 {
		a.active = false
		return nil
	}
	f, err := frame.NewDepthFrame(a.sensorID, uint64(a.frameID), a.startedNs, a.width, a.height, a.depth, a.valid)
	a.active = false
	if err != nil {
		return nil
	}
	return f
}
