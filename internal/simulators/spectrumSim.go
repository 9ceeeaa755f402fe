// Package simulators produces the spectra written to the channels of the spectrometer.
package simulators

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/amine-amaach/simulators/ramanOPCUA/internal/device"
	"github.com/amine-amaach/simulators/ramanOPCUA/internal/metrics"
	"github.com/amine-amaach/simulators/ramanOPCUA/internal/mirror"
	"github.com/awcullen/opcua/ua"
	"github.com/gammazero/workerpool"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Config holds the producer settings.
type Config struct {
	// Number of points of a spectrum.
	Points int
	// Delay between two spectra.
	Interval time.Duration
	// Random walk of the spectrum baseline and of random_value.
	Mean              float64
	StandardDeviation float64
	// Number of channels written concurrently.
	Workers int
}

// target is the set of nodes written for one channel.
type target struct {
	name      string
	intensity ua.NodeID
	timestamp ua.NodeID
	random    ua.NodeID

	baseline *RandomWalk
	scalar   *RandomWalk
	rnd      *rand.Rand
}

// SpectrumSim writes a new spectrum to every channel of a spectrometer on each tick.
// The values go straight to the nodes; the mirrored fields follow through their
// subscriptions.
type SpectrumSim struct {
	backend mirror.Backend
	cfg     Config
	targets []*target
	pool    *workerpool.WorkerPool
	log     *logrus.Logger
	now     func() time.Time
}

// NewSpectrumSim prepares the targets from the node index of each spectrum of dev.
func NewSpectrumSim(backend mirror.Backend, dev *device.Spectrometer, cfg Config, log *logrus.Logger) (*SpectrumSim, error) {
	if cfg.Points <= 0 {
		return nil, errors.Errorf("invalid number of points %d", cfg.Points)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}

	s := &SpectrumSim{
		backend: backend,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
	seed := time.Now().UnixNano()
	for i, ch := range dev.Channels() {
		spec := ch.Spectrum()
		intensity, ok := spec.Node(device.IntensityField)
		if !ok {
			return nil, errors.Errorf("%s has no %s node", spec.Path(), device.IntensityField)
		}
		timestamp, ok := spec.Node(device.TimestampField)
		if !ok {
			return nil, errors.Errorf("%s has no %s node", spec.Path(), device.TimestampField)
		}
		rnd := rand.New(rand.NewSource(seed + int64(i)))
		t := &target{
			name:      ch.Name(),
			intensity: intensity.NodeID,
			timestamp: timestamp.NodeID,
			baseline:  NewRandomWalk(cfg.Mean, cfg.StandardDeviation, rnd),
			scalar:    NewRandomWalk(cfg.Mean, cfg.StandardDeviation, rnd),
			rnd:       rnd,
		}
		if random, ok := spec.Node(device.RandomValueField); ok {
			t.random = random.NodeID
		}
		s.targets = append(s.targets, t)
	}
	s.pool = workerpool.New(cfg.Workers)
	return s, nil
}

// Produce writes one spectrum to every channel and waits for all of them.
// The first error is returned, the other channels are written anyway.
func (s *SpectrumSim) Produce(ctx context.Context) error {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		first error
	)
	now := s.now()
	for _, t := range s.targets {
		t := t
		wg.Add(1)
		s.pool.Submit(func() {
			defer wg.Done()
			if err := s.write(ctx, t, now); err != nil {
				s.log.WithFields(logrus.Fields{
					"Channel": t.name,
					"Err":     err,
				}).Errorln("Unable to write spectrum ⛔")
				mu.Lock()
				if first == nil {
					first = err
				}
				mu.Unlock()
				return
			}
			metrics.SpectraProduced.WithLabelValues(t.name).Inc()
		})
	}
	wg.Wait()
	return first
}

func (s *SpectrumSim) write(ctx context.Context, t *target, now time.Time) error {
	src := now.UTC()
	if err := s.backend.SetDataValue(ctx, t.intensity, ua.NewDataValue(s.spectrum(t), ua.Good, src, 0, src, 0)); err != nil {
		return errors.Wrapf(err, "writing %s intensity", t.name)
	}
	if t.random != nil {
		if err := s.backend.SetDataValue(ctx, t.random, ua.NewDataValue(t.scalar.Next(), ua.Good, src, 0, src, 0)); err != nil {
			return errors.Wrapf(err, "writing %s random value", t.name)
		}
	}
	stamp := now.Format(device.TimestampLayout)
	if err := s.backend.SetDataValue(ctx, t.timestamp, ua.NewDataValue(stamp, ua.Good, src, 0, src, 0)); err != nil {
		return errors.Wrapf(err, "writing %s timestamp", t.name)
	}
	return nil
}

// spectrum returns noise around the next baseline value.
func (s *SpectrumSim) spectrum(t *target) []float64 {
	base := t.baseline.Next()
	points := make([]float64, s.cfg.Points)
	for i := range points {
		points[i] = base + (t.rnd.Float64()-0.5)*s.cfg.StandardDeviation
	}
	return points
}

// Run produces a spectrum on every interval until ctx is done.
func (s *SpectrumSim) Run(ctx context.Context) {
	s.log.WithFields(logrus.Fields{
		"Channels": len(s.targets),
		"Points":   s.cfg.Points,
		"Interval": s.cfg.Interval,
	}).Infoln("🏷️  Producing spectra ...")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := s.Produce(ctx); err != nil && ctx.Err() == nil {
			s.log.WithField("Err", err).Warnln("Spectrum round incomplete 🔔")
		}
		select {
		case <-ctx.Done():
			s.log.Debugln("Spectrum producer stopped 🔔")
			return
		case <-ticker.C:
		}
	}
}

// Close waits for the writes in progress and stops the workers.
func (s *SpectrumSim) Close() {
	s.pool.StopWait()
}
