package position

import (
	"time"
)

// Mode classifies a fix the way gpsd does: 0/1 mean no usable position,
// 2 is a horizontal-only solution, 3 includes altitude.
type Mode int

const (
	ModeNoFix Mode = 1
	Mode2D    Mode = 2
	Mode3D    Mode = 3
)

func (m Mode) String() string {
	switch m {
	case Mode2D:
		return "2D"
	case Mode3D:
		return "3D"
	default:
		return "none"
	}
}

// Valid reports whether the mode carries a usable position.
func (m Mode) Valid() bool {
	return m >= Mode2D
}

// DefaultAccuracyM is assumed when the daemon reports no error estimate.
const DefaultAccuracyM = 50.0

// Fix is a single accepted position report from one device.
//
// Speed is canonical m/s regardless of what the transport delivered.
// AltM is set for 3D fixes, or later by elevation augmentation.
type Fix struct {
	DeviceID string `json:"device"`

	LatDeg float64  `json:"lat_deg"`
	LonDeg float64  `json:"lon_deg"`
	AltM   *float64 `json:"alt_m,omitempty"`

	SpeedMS *float64 `json:"speed_ms,omitempty"`

	Mode      Mode    `json:"mode"`
	SatsSeen  int     `json:"sats_seen"`
	SatsUsed  int     `json:"sats_used"`
	AccuracyM float64 `json:"accuracy_m"`

	FixTime    time.Time `json:"fix_time"`
	ReceivedAt time.Time `json:"received_at"`
}

// Entry is one registry slot: the most recent accepted fix for a device plus
// the two timestamps the sweep policies act on. LastFix tracks the newest
// ingestion that carried a valid fix; LastUpdate tracks any ingestion at all.
type Entry struct {
	DeviceID   string
	Fix        *Fix
	LastUpdate time.Time
	LastFix    time.Time
}
