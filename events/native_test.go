package events_test

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/cameroncuttingedge/wear_control/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFields(t *testing.T) {
	t.Run("decodes every field", func(t *testing.T) {
		e := events.FromFields(events.MapReader{
			"eventTypeString":      "POSITION_UPDATE",
			"controllerTypeString": "ANALOG",
			"targetController":     "watch-1",
			"playerNum":            float64(3),
			"posX":                 0.5,
			"posY":                 -0.25,
		})

		assert.Equal(t, events.Event{
			EventType:        events.PositionUpdate,
			ControllerType:   events.Analog,
			TargetController: "watch-1",
			PlayerNum:        3,
			PosX:             0.5,
			PosY:             -0.25,
		}, e)
	})

	t.Run("enum names are case insensitive", func(t *testing.T) {
		e := events.FromFields(events.MapReader{
			"eventTypeString":      "pair_accepted",
			"controllerTypeString": "dPaD",
		})

		assert.Equal(t, events.PairAccepted, e.EventType)
		assert.Equal(t, events.DPad, e.ControllerType)
	})

	t.Run("unknown enum text falls back", func(t *testing.T) {
		e := events.FromFields(events.MapReader{
			"eventTypeString":      "TELEPORT",
			"controllerTypeString": "",
			"playerNum":            2,
		})

		assert.Equal(t, events.Unknown, e.EventType)
		assert.Equal(t, events.UnknownController, e.ControllerType)
		assert.Equal(t, 2, e.PlayerNum)
	})

	t.Run("positions narrow to single precision", func(t *testing.T) {
		x := 1.23456789012
		e := events.FromFields(events.MapReader{
			"eventTypeString": "POSITION_UPDATE",
			"posX":            x,
		})

		assert.Equal(t, float32(x), e.PosX)
		assert.NotEqual(t, x, float64(e.PosX))
	})

	t.Run("empty object", func(t *testing.T) {
		assert.Equal(t, events.Event{}, events.FromFields(events.MapReader{}))
	})

	t.Run("wrong types read as zero", func(t *testing.T) {
		e := events.FromFields(events.MapReader{
			"eventTypeString":  42,
			"targetController": true,
			"playerNum":        []int{1},
			"posX":             "not a number",
		})

		assert.Equal(t, events.Event{}, e)
	})
}

func TestMapReaderNumbers(t *testing.T) {
	dec := json.NewDecoder(strings.NewReader(`{"playerNum":4,"posX":2.5,"posY":7}`))
	dec.UseNumber()
	var m map[string]any
	require.NoError(t, dec.Decode(&m))

	r := events.MapReader(m)
	assert.Equal(t, 4, r.Int("playerNum"))
	assert.Equal(t, 2.5, r.Float64("posX"))
	assert.Equal(t, 7.0, r.Float64("posY"))
	assert.Equal(t, "4", r.String("playerNum"))
	assert.Equal(t, 0, r.Int("missing"))
}

func TestFromFieldsNonFinite(t *testing.T) {
	e := events.FromFields(events.MapReader{
		"eventTypeString": "POSITION_UPDATE",
		"posX":            "NaN",
		"posY":            "+Inf",
	})

	assert.Equal(t, events.New(events.PositionUpdate).Build(), e)
	text, err := events.Serialize(e)
	require.NoError(t, err)
	got, err := events.Deserialize(text)
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestFromFieldsOutOfRange(t *testing.T) {
	e := events.FromFields(events.MapReader{
		"eventTypeString": "POSITION_UPDATE",
		"posX":            1e300,
		"posY":            "-1e300",
	})

	assert.Equal(t, float32(math.MaxFloat32), e.PosX)
	assert.Equal(t, float32(-math.MaxFloat32), e.PosY)
	_, err := events.Serialize(e)
	require.NoError(t, err)
}

func TestMapReaderFloatNonFinite(t *testing.T) {
	r := events.MapReader{"nan": "NaN", "inf": "-Inf", "raw": math.Inf(1)}

	assert.Zero(t, r.Float64("nan"))
	assert.Zero(t, r.Float64("inf"))
	assert.Zero(t, r.Float64("raw"))
}
