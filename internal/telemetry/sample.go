package telemetry

import (
	"time"
)

// Phase tells whether the autoguider is calibrating or guiding.
type Phase int

const (
	PhaseCalibrating Phase = iota
	PhaseGuiding
)

// String returns the phase name
func (p Phase) String() string {
	if p == PhaseGuiding {
		return "guiding"
	}
	return "calibrating"
}

// MarshalText renders the phase by name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// MaxSecondaryStars is how many stars after the lock star are reported for
// multi-star display.
const MaxSecondaryStars = 12

// StarPoint is a star position in image pixels.
type StarPoint struct {
	X uint16 `json:"x"`
	Y uint16 `json:"y"`
}

// LockStar is the lock star block.
type LockStar struct {
	Selected      bool        `json:"selected"`
	StarX         float64     `json:"star_x"`
	StarY         float64     `json:"star_y"`
	ShowLockCross bool        `json:"show_lock_cross"`
	LockX         float64     `json:"lock_x"`
	LockY         float64     `json:"lock_y"`
	Stars         []StarPoint `json:"stars"`
}

// Sample is one guide sample with its preview frame.
type Sample struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`

	Width    uint32 `json:"width"`
	Height   uint32 `json:"height"`
	BitDepth uint8  `json:"bit_depth"`

	RaOffset   float64 `json:"ra_offset"`
	DecOffset  float64 `json:"dec_offset"`
	Snr        float64 `json:"snr"`
	Mass       float64 `json:"mass"`
	RaPulseMs  int32   `json:"ra_pulse_ms"`
	DecPulseMs int32   `json:"dec_pulse_ms"`
	RaDir      byte    `json:"ra_dir"`
	DecDir     byte    `json:"dec_dir"`
	RmsX       float64 `json:"rms_x"`
	RmsY       float64 `json:"rms_y"`
	RmsTotal   float64 `json:"rms_total"`
	PixelScale float64 `json:"pixel_scale"`
	StarLost   bool    `json:"star_lost"`
	InGuiding  bool    `json:"in_guiding"`

	Lock LockStar `json:"lock"`

	Phase         Phase `json:"phase"`
	StarLostAlert bool  `json:"star_lost_alert"`

	// Image is the raw frame, row-major, BitDepth/8 bytes per pixel.
	Image []byte `json:"-"`
}

// SecondaryStars returns the stars after the lock star, at most
// MaxSecondaryStars of them.
func (s *Sample) SecondaryStars() []StarPoint {
	if len(s.Lock.Stars) <= 1 {
		return nil
	}
	stars := s.Lock.Stars[1:]
	if len(stars) > MaxSecondaryStars {
		stars = stars[:MaxSecondaryStars]
	}
	return stars
}

// ScatterPoint returns the guide error in arcseconds for the scatter plot.
// RA is negated so east is to the left. ok is false when either offset is
// zero, which the autoguider reports for frames without a measurement.
func (s *Sample) ScatterPoint() (x, y float64, ok bool) {
	if s.RaOffset == 0 || s.DecOffset == 0 {
		return 0, 0, false
	}
	return -s.RaOffset * s.PixelScale, s.DecOffset * s.PixelScale, true
}

// Pixels returns the frame size in pixels.
func (s *Sample) Pixels() int {
	return int(s.Width) * int(s.Height)
}
