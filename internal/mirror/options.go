package mirror

import (
	"time"

	"github.com/awcullen/opcua/ua"
	"github.com/sirupsen/logrus"
)

// DefaultSamplingInterval is the sampling interval of the subscription created by Bind.
const DefaultSamplingInterval = 500 * time.Millisecond

// ChangeHook is called after a notification has been applied to a field.
// Hooks run on the consumer goroutine of the object, one at a time.
type ChangeHook func(obj *Object, field string, value ua.DataValue)

// Option configures Bind.
type Option func(*options)

type options struct {
	samplingInterval time.Duration
	logger           *logrus.Logger
	hooks            []ChangeHook
	parent           *Object
}

func defaultOptions() options {
	return options{
		samplingInterval: DefaultSamplingInterval,
		logger:           logrus.StandardLogger(),
	}
}

// WithSamplingInterval sets the sampling interval of the subscription.
func WithSamplingInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.samplingInterval = d
		}
	}
}

// WithLogger sets the logger of the object and its notifier.
func WithLogger(l *logrus.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithChangeHook adds a hook called after each applied notification.
func WithChangeHook(h ChangeHook) Option {
	return func(o *options) {
		if h != nil {
			o.hooks = append(o.hooks, h)
		}
	}
}

// WithParent records the object this one is nested in. It only affects Path.
func WithParent(parent *Object) Option {
	return func(o *options) {
		o.parent = parent
	}
}
