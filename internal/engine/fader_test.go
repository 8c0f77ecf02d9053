package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFaderType(t *testing.T) {
	assert.Equal(t, FaderIEC, ParseFaderType("iec"))
	assert.Equal(t, FaderCubic, ParseFaderType("CUBIC"))
	assert.Equal(t, FaderLog, ParseFaderType("log"))
	assert.Equal(t, FaderLog, ParseFaderType(""))
	assert.Equal(t, FaderLog, ParseFaderType("something"))
}

func TestDeflectionBounds(t *testing.T) {
	for _, f := range []FaderType{FaderCubic, FaderIEC, FaderLog} {
		t.Run(f.String(), func(t *testing.T) {
			assert.InDelta(t, 1.0, f.Deflection(0), 1e-9)
			assert.Equal(t, 0.0, f.Deflection(math.Inf(-1)))
			assert.Less(t, f.Deflection(-150), 0.01)

			prev := -1.0
			for db := -100.0; db <= 0; db += 5 {
				d := f.Deflection(db)
				assert.GreaterOrEqual(t, d, prev, "deflection must be monotonic at %v dB", db)
				prev = d
			}
		})
	}
}
