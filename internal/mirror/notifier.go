package mirror

import (
	"sync"

	"github.com/amine-amaach/simulators/ramanOPCUA/internal/metrics"
	deque "github.com/gammazero/deque"
	"github.com/sirupsen/logrus"
)

// ChangeNotifier routes the notifications of one subscription to the fields of the
// Object it was created for.
//
// OnDataChange only queues the notification so the delivery goroutine of the
// backend is never stalled. A single consumer goroutine applies the queue in
// delivery order, so the field of a child ends up with the last delivered value.
type ChangeNotifier struct {
	obj *Object

	mu      sync.Mutex
	queue   deque.Deque[DataChange]
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

var _ DataChangeHandler = (*ChangeNotifier)(nil)

func newChangeNotifier(obj *Object) *ChangeNotifier {
	n := &ChangeNotifier{
		obj:     obj,
		queue:   deque.Deque[DataChange]{},
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go n.run()
	return n
}

// OnDataChange implements DataChangeHandler.
func (n *ChangeNotifier) OnDataChange(change DataChange) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.queue.PushBack(change)
	pending := n.queue.Len()
	n.mu.Unlock()
	metrics.PendingNotifications.WithLabelValues(n.obj.Path()).Set(float64(pending))

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *ChangeNotifier) run() {
	defer close(n.stopped)
	for {
		n.drain()
		select {
		case <-n.wake:
		case <-n.done:
			n.drain()
			return
		}
	}
}

func (n *ChangeNotifier) drain() {
	for {
		n.mu.Lock()
		if n.queue.Len() == 0 {
			n.mu.Unlock()
			metrics.PendingNotifications.WithLabelValues(n.obj.Path()).Set(0)
			return
		}
		change := n.queue.PopFront()
		n.mu.Unlock()
		n.apply(change)
	}
}

// apply sets the field named after the child to the value carried by the notification.
func (n *ChangeNotifier) apply(change DataChange) {
	obj := n.obj
	name, ok := obj.fieldFor(change.NodeID)
	if !ok {
		metrics.NotificationsDropped.WithLabelValues(obj.Path()).Inc()
		obj.log.WithFields(logrus.Fields{
			"Node Id": nodeKey(change.NodeID),
			"Err":     ErrUnmirroredNotification,
		}).Warnln("Dropping data change 🔔")
		return
	}
	obj.fields.SetDataValue(name, change.Data)
	metrics.NotificationsApplied.WithLabelValues(obj.Path()).Inc()
	if obj.log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		obj.log.WithFields(logrus.Fields{
			"Field":  name,
			"Status": change.Data.StatusCode,
		}).Traceln("Field updated from server")
	}

	for _, hook := range obj.opts.hooks {
		hook(obj, name, change.Data)
	}
}

// stop applies what is already queued, then ends the consumer goroutine.
// Notifications arriving afterwards are ignored.
func (n *ChangeNotifier) stop() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.stopped
		return
	}
	n.closed = true
	n.mu.Unlock()
	close(n.done)
	<-n.stopped
}
