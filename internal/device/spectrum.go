package device

import (
	"context"
	"time"

	"github.com/amine-amaach/simulators/ramanOPCUA/internal/mirror"
	"github.com/awcullen/opcua/ua"
)

// Field names of a Spectrum.
const (
	LabelField       = "Label"
	IntensityField   = "Intensity"
	TimestampField   = "Timestamp"
	RandomValueField = "random_value"
)

// TimestampLayout is the format of the Timestamp field.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// Spectrum mirrors the last spectrum of a channel.
type Spectrum struct {
	*mirror.Object
}

func bindSpectrum(ctx context.Context, backend mirror.Backend, id ua.NodeID, opts ...mirror.Option) (*Spectrum, error) {
	obj, err := mirror.Bind(ctx, backend, id, opts...)
	if err != nil {
		return nil, err
	}
	return &Spectrum{Object: obj}, nil
}

func (s *Spectrum) Label() string { return stringField(s.Object, LabelField) }

// Intensity returns the spectrum points, nil until the first spectrum arrives.
func (s *Spectrum) Intensity() []float64 {
	v, ok := s.Get(IntensityField)
	if !ok {
		return nil
	}
	points, _ := v.([]float64)
	return points
}

// Timestamp returns the acquisition time as written by the producer.
func (s *Spectrum) Timestamp() string { return stringField(s.Object, TimestampField) }

// RandomValue returns the random scalar. ok is false on channels without one.
func (s *Spectrum) RandomValue() (value float64, ok bool) {
	v, ok := s.Get(RandomValueField)
	if !ok {
		return 0, false
	}
	value, ok = v.(float64)
	return value, ok
}

// HasRandomValue reports whether the spectrum has a random_value node.
func (s *Spectrum) HasRandomValue() bool {
	_, ok := s.Node(RandomValueField)
	return ok
}

// SetIntensity assigns the points locally, Write or WriteField pushes them.
func (s *Spectrum) SetIntensity(points []float64) { s.Set(IntensityField, points) }

// SetTimestamp assigns the acquisition time locally.
func (s *Spectrum) SetTimestamp(t time.Time) { s.Set(TimestampField, t.Format(TimestampLayout)) }

// SetRandomValue assigns the random scalar locally.
func (s *Spectrum) SetRandomValue(v float64) { s.Set(RandomValueField, v) }
