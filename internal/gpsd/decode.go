package gpsd

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"gps-arbiter/internal/position"
)

type msgBase struct {
	Class string `json:"class"`
}

type tpvMsg struct {
	Class  string `json:"class"`
	Device string `json:"device"`
	Mode   *int   `json:"mode"`
	Time   string `json:"time"`

	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`

	Alt     *float64 `json:"alt"`
	AltMSL  *float64 `json:"altMSL"`
	SpeedMS *float64 `json:"speed"`

	// Estimated position errors (meters) when available.
	Epx *float64 `json:"epx"`
	Epy *float64 `json:"epy"`
	Eph *float64 `json:"eph"`
}

type skySat struct {
	Used bool `json:"used"`
}

type skyMsg struct {
	Class      string   `json:"class"`
	Device     string   `json:"device"`
	Satellites []skySat `json:"satellites"`
}

// Report is one decoded position report attributed to a device. Mode below
// 2D still produces a report so the feed can refresh the device's liveness.
type Report struct {
	DeviceID string
	Mode     position.Mode

	LatDeg *float64
	LonDeg *float64
	AltM   *float64

	SpeedMS   *float64
	AccuracyM *float64

	SatsSeen int
	SatsUsed int

	FixTime time.Time
}

type satCounts struct {
	seen int
	used int
}

// decoder turns the gpsd JSON line stream into Reports. SKY sentences carry
// satellite visibility per device; the counts are folded into the next TPV
// from the same device.
type decoder struct {
	sats map[string]satCounts
}

func newDecoder() *decoder {
	return &decoder{sats: make(map[string]satCounts)}
}

// applyLine decodes one line. It returns a nil Report for sentences that do
// not yield a position (SKY, VERSION, DEVICES, WATCH, ...).
func (d *decoder) applyLine(nowUTC time.Time, line string) (*Report, error) {
	var base msgBase
	if err := json.Unmarshal([]byte(line), &base); err != nil {
		return nil, fmt.Errorf("gpsd json parse failed: %v", err)
	}

	switch strings.ToUpper(strings.TrimSpace(base.Class)) {
	case "TPV":
		var tpv tpvMsg
		if err := json.Unmarshal([]byte(line), &tpv); err != nil {
			return nil, fmt.Errorf("gpsd tpv parse failed: %v", err)
		}
		return d.applyTPV(nowUTC, tpv), nil
	case "SKY":
		var sky skyMsg
		if err := json.Unmarshal([]byte(line), &sky); err != nil {
			return nil, fmt.Errorf("gpsd sky parse failed: %v", err)
		}
		d.applySKY(sky)
		return nil, nil
	default:
		return nil, nil
	}
}

func (d *decoder) applyTPV(nowUTC time.Time, tpv tpvMsg) *Report {
	device := strings.TrimSpace(tpv.Device)
	if device == "" {
		return nil
	}

	rep := &Report{DeviceID: device, Mode: position.ModeNoFix}
	if tpv.Mode != nil && *tpv.Mode >= 2 {
		rep.Mode = position.Mode(*tpv.Mode)
	}

	// gpsd's own timestamp may lag or be absent; fall back to wall clock.
	rep.FixTime = nowUTC
	if strings.TrimSpace(tpv.Time) != "" {
		if t, err := time.Parse(time.RFC3339Nano, tpv.Time); err == nil {
			rep.FixTime = t.UTC()
		}
	}

	rep.LatDeg = tpv.Lat
	rep.LonDeg = tpv.Lon
	rep.SpeedMS = tpv.SpeedMS

	altM := tpv.AltMSL
	if altM == nil {
		altM = tpv.Alt
	}
	rep.AltM = altM

	if tpv.Eph != nil {
		rep.AccuracyM = tpv.Eph
	} else if tpv.Epx != nil && tpv.Epy != nil {
		acc := math.Sqrt((*tpv.Epx)*(*tpv.Epx) + (*tpv.Epy)*(*tpv.Epy))
		rep.AccuracyM = &acc
	}

	if c, ok := d.sats[device]; ok {
		rep.SatsSeen = c.seen
		rep.SatsUsed = c.used
	}
	return rep
}

func (d *decoder) applySKY(sky skyMsg) {
	device := strings.TrimSpace(sky.Device)
	if device == "" {
		return
	}
	used := 0
	for _, sat := range sky.Satellites {
		if sat.Used {
			used++
		}
	}
	d.sats[device] = satCounts{seen: len(sky.Satellites), used: used}
}

// ToFix converts a valid report into a storable fix. Reports below 2D have
// no fix representation and return false.
func (r *Report) ToFix(receivedAt time.Time) (position.Fix, bool) {
	if r == nil || !r.Mode.Valid() || r.LatDeg == nil || r.LonDeg == nil {
		return position.Fix{}, false
	}
	f := position.Fix{
		DeviceID:   r.DeviceID,
		LatDeg:     *r.LatDeg,
		LonDeg:     *r.LonDeg,
		Mode:       r.Mode,
		SatsSeen:   r.SatsSeen,
		SatsUsed:   r.SatsUsed,
		AccuracyM:  position.DefaultAccuracyM,
		FixTime:    r.FixTime,
		ReceivedAt: receivedAt.UTC(),
	}
	if r.AccuracyM != nil {
		f.AccuracyM = *r.AccuracyM
	}
	if r.SpeedMS != nil {
		v := *r.SpeedMS
		f.SpeedMS = &v
	}
	// Altitude is only trusted on a 3D solution.
	if r.Mode == position.Mode3D && r.AltM != nil {
		v := *r.AltM
		f.AltM = &v
	}
	return f, true
}
