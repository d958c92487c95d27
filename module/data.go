package module

import "time"

// Unit is the physical unit of a sensor reading or actuator command
type Unit string

// Recognized physical units
const (
	UnitNone        Unit = ""
	UnitCelsius     Unit = "celsius"
	UnitFahrenheit  Unit = "fahrenheit"
	UnitMeters      Unit = "meters"
	UnitMillimeters Unit = "millimeters"
	UnitRadians     Unit = "radians"
	UnitDegrees     Unit = "degrees"
	UnitNewtons     Unit = "newtons"
	UnitPascals     Unit = "pascals"
	UnitVolts       Unit = "volts"
	UnitAmperes     Unit = "amperes"
	UnitWatts       Unit = "watts"
	UnitPercent     Unit = "percent"
)

// SensorData is an immutable reading produced fresh on every sensor read
type SensorData struct {
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	Unit      Unit      `json:"unit,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSensorData creates a reading stamped with the current time
func NewSensorData(name string, value float64, unit Unit) SensorData {
	return SensorData{
		Name:      name,
		Value:     value,
		Unit:      unit,
		Timestamp: time.Now(),
	}
}

// ActuatorCommand is an immutable command consumed once by an actuator
type ActuatorCommand struct {
	Target string  `json:"target"`
	Value  float64 `json:"value"`
	Unit   Unit    `json:"unit,omitempty"`
}

// NewActuatorCommand creates a command for the named target
func NewActuatorCommand(target string, value float64, unit Unit) ActuatorCommand {
	return ActuatorCommand{Target: target, Value: value, Unit: unit}
}

// Limits bounds an actuator's commanded values and their rate of change
type Limits struct {
	Min     float64 `json:"min" yaml:"min"`
	Max     float64 `json:"max" yaml:"max"`
	MaxRate float64 `json:"max_rate" yaml:"max_rate"` // units per second
}

// Contains reports whether v lies within [Min, Max]
func (l Limits) Contains(v float64) bool {
	return v >= l.Min && v <= l.Max
}

// SafeValue is the value an actuator is driven to under emergency stop:
// zero when zero is within limits, otherwise the nearest bound.
func (l Limits) SafeValue() float64 {
	switch {
	case l.Min > 0:
		return l.Min
	case l.Max < 0:
		return l.Max
	default:
		return 0
	}
}
