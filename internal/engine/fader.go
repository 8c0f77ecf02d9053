package engine

import (
	"math"
	"strings"
)

// ParseFaderType maps an algorithm name to a fader curve. Anything other than
// "iec" or "cubic" selects the logarithmic curve.
func ParseFaderType(algorithm string) FaderType {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "iec":
		return FaderIEC
	case "cubic":
		return FaderCubic
	default:
		return FaderLog
	}
}

func (f FaderType) String() string {
	switch f {
	case FaderCubic:
		return "cubic"
	case FaderIEC:
		return "iec"
	default:
		return "log"
	}
}

const (
	logOffsetDB  = 6.0
	logRangeDB   = 96.0
	logOffsetVal = -0.77815125038364363
	logRangeVal  = -2.00860017176191756
)

// Deflection converts a dB level to a 0..1 meter position
func (f FaderType) Deflection(db float64) float64 {
	if math.IsInf(db, -1) || math.IsNaN(db) {
		return 0
	}
	var def float64
	switch f {
	case FaderCubic:
		def = math.Cbrt(math.Pow(10, db/20))
	case FaderIEC:
		def = iecDeflection(db)
	default:
		switch {
		case db >= 0:
			def = 1
		case db > -logRangeDB:
			def = (-math.Log10(-db+logOffsetDB) - logRangeVal) / (logOffsetVal - logRangeVal)
		}
	}
	return math.Max(0, math.Min(1, def))
}

func iecDeflection(db float64) float64 {
	switch {
	case db >= 0:
		return 1
	case db >= -9:
		return (db+9)/9*0.25 + 0.75
	case db >= -20:
		return (db+20)/11*0.25 + 0.5
	case db >= -30:
		return (db+30)/10*0.2 + 0.3
	case db >= -40:
		return (db+40)/10*0.15 + 0.15
	case db >= -50:
		return (db+50)/10*0.075 + 0.075
	case db >= -60:
		return (db+60)/10*0.05 + 0.025
	case db >= -114:
		return (db+150)/90*0.025
	default:
		return 0
	}
}
