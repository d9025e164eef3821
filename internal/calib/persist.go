package calib

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Calibration files carry a version tag so older incompatible records
// are rejected instead of half-read. Bump when the record shape
// changes incompatibly.
const calibVersion = "1.0"

// ErrIO marks failures reaching the calibration file (unreadable path,
// failed write). ErrParse marks a reachable file whose content is not
// a valid calibration record. Callers distinguish the two with
// errors.Is.
var (
	ErrIO    = errors.New("calibration io error")
	ErrParse = errors.New("calibration parse error")
)

// profileRecord is the on-disk form. Required fields are pointers so
// a missing key is distinguishable from a zero value when reading
// back. Unknown keys in the file are ignored.
type profileRecord struct {
	Version     string      `json:"version"`
	RotAngle    *float64    `json:"rot_angle"`
	XLim        *[2]int     `json:"x_lim"`
	YLim        *[2]int     `json:"y_lim"`
	XPos        *int        `json:"x_pos"`
	YPos        *int        `json:"y_pos"`
	ScaleFactor *float64    `json:"scale_factor"`
	ZRange      *[2]float64 `json:"z_range"`
	BoxWidth    *float64    `json:"box_width"`
	BoxHeight   *float64    `json:"box_height"`
	Contours    *bool       `json:"contours"`
	NContours   *int        `json:"n_contours"`
	Colormap    *string     `json:"cmap"`
	Legend      *Region     `json:"legend,omitempty"`
	ProfileArea *Region     `json:"profile,omitempty"`
	HotArea     *Region     `json:"hot_area,omitempty"`
}

func recordFromProfile(p *Profile) *profileRecord {
	rot := p.RotAngle
	xLim := p.XLim
	yLim := p.YLim
	xPos := p.XPos
	yPos := p.YPos
	scale := p.ScaleFactor
	zRange := [2]float64{p.ZMin, p.ZMax}
	boxW := p.BoxWidth
	boxH := p.BoxHeight
	contours := p.Contours
	nContours := p.NContours
	cmap := p.Colormap
	return &profileRecord{
		Version:     calibVersion,
		RotAngle:    &rot,
		XLim:        &xLim,
		YLim:        &yLim,
		XPos:        &xPos,
		YPos:        &yPos,
		ScaleFactor: &scale,
		ZRange:      &zRange,
		BoxWidth:    &boxW,
		BoxHeight:   &boxH,
		Contours:    &contours,
		NContours:   &nContours,
		Colormap:    &cmap,
		Legend:      cloneRegion(p.Legend),
		ProfileArea: cloneRegion(p.ProfileArea),
		HotArea:     cloneRegion(p.HotArea),
	}
}

func (r *profileRecord) missingField() string {
	switch {
	case r.RotAngle == nil:
		return "rot_angle"
	case r.XLim == nil:
		return "x_lim"
	case r.YLim == nil:
		return "y_lim"
	case r.XPos == nil:
		return "x_pos"
	case r.YPos == nil:
		return "y_pos"
	case r.ScaleFactor == nil:
		return "scale_factor"
	case r.ZRange == nil:
		return "z_range"
	case r.BoxWidth == nil:
		return "box_width"
	case r.BoxHeight == nil:
		return "box_height"
	case r.Contours == nil:
		return "contours"
	case r.NContours == nil:
		return "n_contours"
	case r.Colormap == nil:
		return "cmap"
	}
	return ""
}

// Save writes the complete profile to path as a versioned JSON record.
func Save(p *Profile, path string) error {
	data, err := json.MarshalIndent(recordFromProfile(p), "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to encode calibration: %v", ErrIO, err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: failed to write %s: %v", ErrIO, path, err)
	}
	return nil
}

// Load reads a calibration record from path. The returned profile has
// passed full invariant validation; on any error no profile is
// returned, so the caller's current profile stays untouched. An
// unreadable path reports ErrIO; anything wrong with the content
// (bad JSON, version mismatch, missing field, invariant violation)
// reports ErrParse.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrIO, path, err)
	}
	p, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Marshal returns the versioned record bytes without touching disk.
// The profile store persists these alongside its history rows.
func Marshal(p *Profile) ([]byte, error) {
	data, err := json.Marshal(recordFromProfile(p))
	if err != nil {
		return nil, fmt.Errorf("failed to encode calibration: %v", err)
	}
	return data, nil
}

// Unmarshal decodes record bytes with the same validation as Load.
func Unmarshal(data []byte) (*Profile, error) {
	var rec profileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: failed to decode calibration record: %v", ErrParse, err)
	}
	if rec.Version != calibVersion {
		return nil, fmt.Errorf("%w: record has version %q, want %q", ErrParse, rec.Version, calibVersion)
	}
	if f := rec.missingField(); f != "" {
		return nil, fmt.Errorf("%w: record is missing required field %q", ErrParse, f)
	}
	p := &Profile{
		RotAngle:    *rec.RotAngle,
		XLim:        *rec.XLim,
		YLim:        *rec.YLim,
		XPos:        *rec.XPos,
		YPos:        *rec.YPos,
		ScaleFactor: *rec.ScaleFactor,
		ZMin:        rec.ZRange[0],
		ZMax:        rec.ZRange[1],
		BoxWidth:    *rec.BoxWidth,
		BoxHeight:   *rec.BoxHeight,
		Contours:    *rec.Contours,
		NContours:   *rec.NContours,
		Colormap:    *rec.Colormap,
		Legend:      rec.Legend,
		ProfileArea: rec.ProfileArea,
		HotArea:     rec.HotArea,
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return p, nil
}
