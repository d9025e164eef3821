// Package calib holds the calibration profile that maps the depth
// sensor's view onto the projector canvas, plus its validation and
// persistence. The profile is plain data; the session owns locking.
package calib

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidField is wrapped by every rejected profile mutation.
var ErrInvalidField = errors.New("invalid profile field")

// FieldError reports which field a rejected mutation targeted.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid profile field %q: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrInvalidField }

func fieldErr(field, format string, args ...interface{}) error {
	return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Region is an auxiliary overlay rectangle (legend, profile view, hot
// area). The transform engine ignores regions; they are carried for
// front-end layers and round-tripped through persistence.
type Region struct {
	Top    int `json:"top"`
	Left   int `json:"left"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Profile is the complete sensor-to-projector calibration state.
// Fields are exported for serialization and test diffing; all
// mutation goes through the Set* methods so every stored state is
// valid. Limits and positions are pixels, depths and box dimensions
// are millimeters, the rotation angle is degrees in [-180,180].
type Profile struct {
	RotAngle    float64
	XLim        [2]int
	YLim        [2]int
	XPos        int
	YPos        int
	ScaleFactor float64
	ZMin        float64
	ZMax        float64
	BoxWidth    float64
	BoxHeight   float64
	Contours    bool
	NContours   int
	Colormap    string
	Legend      *Region
	ProfileArea *Region
	HotArea     *Region
}

// Default geometry matches the synthetic sensor (512x424 at a sand
// surface between 1170 and 1370 mm) and a 1000x800 mm sandbox.
const (
	DefaultZMin      = 1170.0
	DefaultZMax      = 1370.0
	DefaultBoxWidth  = 1000.0
	DefaultBoxHeight = 800.0
	DefaultColormap  = "earth"
)

// Defaults returns the baseline profile used before any calibration
// file is loaded: no rotation, full 512x424 crop, unit scale, origin
// placement. Always passes Validate so a fresh session can render.
func Defaults() *Profile {
	return &Profile{
		RotAngle:    0,
		XLim:        [2]int{0, 512},
		YLim:        [2]int{0, 424},
		XPos:        0,
		YPos:        0,
		ScaleFactor: 1.0,
		ZMin:        DefaultZMin,
		ZMax:        DefaultZMax,
		BoxWidth:    DefaultBoxWidth,
		BoxHeight:   DefaultBoxHeight,
		Contours:    true,
		NContours:   10,
		Colormap:    DefaultColormap,
	}
}

// Clone returns an independent deep copy. Sessions hand clones to the
// render loop so a render never sees a half-applied mutation.
func (p *Profile) Clone() *Profile {
	c := *p
	if p.Legend != nil {
		r := *p.Legend
		c.Legend = &r
	}
	if p.ProfileArea != nil {
		r := *p.ProfileArea
		c.ProfileArea = &r
	}
	if p.HotArea != nil {
		r := *p.HotArea
		c.HotArea = &r
	}
	return &c
}

// normalizeAngle wraps degrees into [-180,180].
func normalizeAngle(deg float64) float64 {
	r := math.Mod(deg, 360)
	if r > 180 {
		r -= 360
	} else if r < -180 {
		r += 360
	}
	return r
}

// SetRotAngle stores the rotation normalized into [-180,180], so 270
// becomes -90. Non-finite values are rejected.
func (p *Profile) SetRotAngle(deg float64) error {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return fieldErr("rot_angle", "must be finite, got %v", deg)
	}
	p.RotAngle = normalizeAngle(deg)
	return nil
}

// SetXLim sets the horizontal crop window in sensor pixels.
func (p *Profile) SetXLim(min, max int) error {
	if min >= max {
		return fieldErr("x_lim", "min %d must be below max %d", min, max)
	}
	p.XLim = [2]int{min, max}
	return nil
}

// SetYLim sets the vertical crop window in sensor pixels.
func (p *Profile) SetYLim(min, max int) error {
	if min >= max {
		return fieldErr("y_lim", "min %d must be below max %d", min, max)
	}
	p.YLim = [2]int{min, max}
	return nil
}

// SetXPos sets the horizontal canvas placement offset. Any integer is
// valid; placements beyond the canvas simply clip.
func (p *Profile) SetXPos(px int) { p.XPos = px }

// SetYPos sets the vertical canvas placement offset.
func (p *Profile) SetYPos(px int) { p.YPos = px }

func (p *Profile) SetScaleFactor(f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return fieldErr("scale_factor", "must be a positive finite number, got %v", f)
	}
	p.ScaleFactor = f
	return nil
}

// SetZRange sets the depth window in millimeters mapped onto the full
// color range.
func (p *Profile) SetZRange(zMin, zMax float64) error {
	if math.IsNaN(zMin) || math.IsInf(zMin, 0) || math.IsNaN(zMax) || math.IsInf(zMax, 0) {
		return fieldErr("z_range", "bounds must be finite, got (%v,%v)", zMin, zMax)
	}
	if zMin >= zMax {
		return fieldErr("z_range", "z_min %v must be below z_max %v", zMin, zMax)
	}
	p.ZMin = zMin
	p.ZMax = zMax
	return nil
}

func (p *Profile) SetBoxWidth(mm float64) error {
	if math.IsNaN(mm) || math.IsInf(mm, 0) || mm <= 0 {
		return fieldErr("box_width", "must be positive millimeters, got %v", mm)
	}
	p.BoxWidth = mm
	return nil
}

func (p *Profile) SetBoxHeight(mm float64) error {
	if math.IsNaN(mm) || math.IsInf(mm, 0) || mm <= 0 {
		return fieldErr("box_height", "must be positive millimeters, got %v", mm)
	}
	p.BoxHeight = mm
	return nil
}

// SetContours toggles the iso-line overlay.
func (p *Profile) SetContours(on bool) { p.Contours = on }

func (p *Profile) SetNContours(n int) error {
	if n < 0 {
		return fieldErr("n_contours", "must not be negative, got %d", n)
	}
	p.NContours = n
	return nil
}

// SetColormap stores a colormap id. The id must be non-empty here;
// whether it names a registered map is checked at the control surface,
// where the colormap registry is in scope.
func (p *Profile) SetColormap(name string) error {
	if name == "" {
		return fieldErr("cmap", "must not be empty")
	}
	p.Colormap = name
	return nil
}

// SetLegend, SetProfileArea and SetHotArea attach or clear (nil) the
// passthrough overlay regions.
func (p *Profile) SetLegend(r *Region)      { p.Legend = cloneRegion(r) }
func (p *Profile) SetProfileArea(r *Region) { p.ProfileArea = cloneRegion(r) }
func (p *Profile) SetHotArea(r *Region)     { p.HotArea = cloneRegion(r) }

func cloneRegion(r *Region) *Region {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Validate checks every invariant on the assembled profile. Setters
// keep a live profile valid; Validate guards states built in one shot,
// such as records read back from disk.
func (p *Profile) Validate() error {
	if math.IsNaN(p.RotAngle) || p.RotAngle < -180 || p.RotAngle > 180 {
		return fieldErr("rot_angle", "out of range [-180,180]: %v", p.RotAngle)
	}
	if p.XLim[0] >= p.XLim[1] {
		return fieldErr("x_lim", "min %d must be below max %d", p.XLim[0], p.XLim[1])
	}
	if p.YLim[0] >= p.YLim[1] {
		return fieldErr("y_lim", "min %d must be below max %d", p.YLim[0], p.YLim[1])
	}
	if math.IsNaN(p.ScaleFactor) || math.IsInf(p.ScaleFactor, 0) || p.ScaleFactor <= 0 {
		return fieldErr("scale_factor", "must be a positive finite number, got %v", p.ScaleFactor)
	}
	if math.IsNaN(p.ZMin) || math.IsNaN(p.ZMax) || p.ZMin >= p.ZMax {
		return fieldErr("z_range", "z_min %v must be below z_max %v", p.ZMin, p.ZMax)
	}
	if math.IsNaN(p.BoxWidth) || math.IsInf(p.BoxWidth, 0) || p.BoxWidth <= 0 {
		return fieldErr("box_width", "must be positive millimeters, got %v", p.BoxWidth)
	}
	if math.IsNaN(p.BoxHeight) || math.IsInf(p.BoxHeight, 0) || p.BoxHeight <= 0 {
		return fieldErr("box_height", "must be positive millimeters, got %v", p.BoxHeight)
	}
	if p.NContours < 0 {
		return fieldErr("n_contours", "must not be negative, got %d", p.NContours)
	}
	if p.Colormap == "" {
		return fieldErr("cmap", "must not be empty")
	}
	return nil
}

// DisplayScale reports millimeters of sand surface per projected pixel
// along each axis, derived from the box dimensions and the crop/scale
// geometry. Bookkeeping for the status surface only; the transform
// math never reads it.
func (p *Profile) DisplayScale() (mmPerPxX, mmPerPxY float64) {
	w := float64(p.XLim[1]-p.XLim[0]) * p.ScaleFactor
	h := float64(p.YLim[1]-p.YLim[0]) * p.ScaleFactor
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	return p.BoxWidth / w, p.BoxHeight / h
}

// Apply routes a single JSON-encoded mutation to the matching setter.
// This is the wire form of the control surface: one field name, one
// value, validated atomically. An unknown field name is rejected the
// same way an invalid value is.
func (p *Profile) Apply(field string, value json.RawMessage) error {
	switch field {
	case "rot_angle":
		var v float64
		if err := json.Unmarshal(value, &v); err != nil {
			return fieldErr(field, "want a number: %v", err)
		}
		return p.SetRotAngle(v)
	case "x_lim":
		var v [2]int
		if err := json.Unmarshal(value, &v); err != nil {
			return fieldErr(field, "want a [min,max] integer pair: %v", err)
		}
		return p.SetXLim(v[0], v[1])
	case "y_lim":
		var v [2]int
		if err := json.Unmarshal(value, &v); err != nil {
			return fieldErr(field, "want a [min,max] integer pair: %v", err)
		}
		return p.SetYLim(v[0], v[1])
	case "x_pos":
		var v int
		if err := json.Unmarshal(value, &v); err != nil {
			return fieldErr(field, "want an integer: %v", err)
		}
		p.SetXPos(v)
		return nil
	case "y_pos":
		var v int
		if err := json.Unmarshal(value, &v); err != nil {
			return fieldErr(field, "want an integer: %v", err)
		}
		p.SetYPos(v)
		return nil
	case "scale_factor":
		var v float64
		if err := json.Unmarshal(value, &v); err != nil {
			return fieldErr(field, "want a number: %v", err)
		}
		return p.SetScaleFactor(v)
	case "z_range":
		var v [2]float64
		if err := json.Unmarshal(value, &v); err != nil {
			return fieldErr(field, "want a [z_min,z_max] pair: %v", err)
		}
		return p.SetZRange(v[0], v[1])
	case "box_width":
		var v float64
		if err := json.Unmarshal(value, &v); err != nil {
			return fieldErr(field, "want a number: %v", err)
		}
		return p.SetBoxWidth(v)
	case "box_height":
		var v float64
		if err := json.Unmarshal(value, &v); err != nil {
			return fieldErr(field, "want a number: %v", err)
		}
		return p.SetBoxHeight(v)
	case "contours":
		var v bool
		if err := json.Unmarshal(value, &v); err != nil {
			return fieldErr(field, "want a boolean: %v", err)
		}
		p.SetContours(v)
		return nil
	case "n_contours":
		var v int
		if err := json.Unmarshal(value, &v); err != nil {
			return fieldErr(field, "want an integer: %v", err)
		}
		return p.SetNContours(v)
	case "cmap":
		var v string
		if err := json.Unmarshal(value, &v); err != nil {
			return fieldErr(field, "want a string: %v", err)
		}
		return p.SetColormap(v)
	case "legend":
		r, err := unmarshalRegion(field, value)
		if err != nil {
			return err
		}
		p.SetLegend(r)
		return nil
	case "profile":
		r, err := unmarshalRegion(field, value)
		if err != nil {
			return err
		}
		p.SetProfileArea(r)
		return nil
	case "hot_area":
		r, err := unmarshalRegion(field, value)
		if err != nil {
			return err
		}
		p.SetHotArea(r)
		return nil
	default:
		return fieldErr(field, "unknown field")
	}
}

func unmarshalRegion(field string, value json.RawMessage) (*Region, error) {
	var v *Region
	if err := json.Unmarshal(value, &v); err != nil {
		return nil, fieldErr(field, "want a region object or null: %v", err)
	}
	return v, nil
}
