package uabackend

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/amine-amaach/simulators/ramanOPCUA/internal/mirror"
	"github.com/awcullen/opcua/server"
	"github.com/awcullen/opcua/ua"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Subscription groups the sampled items created for one handler.
type Subscription struct {
	sync.Mutex
	id       string
	backend  *Backend
	group    *server.PollGroup
	handler  mirror.DataChangeHandler
	interval time.Duration
	items    []*monitoredItem
	next     uint32
	deleted  bool
}

func newSubscription(b *Backend, interval time.Duration, handler mirror.DataChangeHandler) *Subscription {
	return &Subscription{
		id:       uuid.NewString(),
		backend:  b,
		group:    b.srv.Scheduler().GetPollGroup(interval),
		handler:  handler,
		interval: interval,
	}
}

func (s *Subscription) ID() string { return s.id }

// SubscribeDataChange samples each node on the subscription interval. The current value
// is reported on the first sample. Either every node is added or none is.
func (s *Subscription) SubscribeDataChange(ctx context.Context, nodes []ua.NodeID) ([]uint32, error) {
	vars := make([]*server.VariableNode, len(nodes))
	for i, id := range nodes {
		v, ok := s.backend.srv.NamespaceManager().FindVariable(id)
		if !ok {
			return nil, ua.BadNodeIDUnknown
		}
		vars[i] = v
	}

	s.Lock()
	defer s.Unlock()
	if s.deleted {
		return nil, ua.BadSubscriptionIDInvalid
	}
	handles := make([]uint32, len(vars))
	for i, v := range vars {
		s.next++
		item := &monitoredItem{sub: s, handle: s.next, node: v}
		s.items = append(s.items, item)
		handles[i] = item.handle
		s.group.Subscribe(item)
	}
	s.backend.log.WithFields(logrus.Fields{
		"Subscription": s.id,
		"Items":        len(vars),
		"Interval":     s.interval,
	}).Debugln("Monitored items created")
	return handles, nil
}

// Delete stops sampling every item of the subscription.
func (s *Subscription) Delete(ctx context.Context) error {
	s.Lock()
	defer s.Unlock()
	if s.deleted {
		return nil
	}
	s.deleted = true
	for _, item := range s.items {
		s.group.Unsubscribe(item)
		item.stop()
	}
	s.items = nil
	return nil
}

// Len returns the number of monitored items.
func (s *Subscription) Len() int {
	s.Lock()
	defer s.Unlock()
	return len(s.items)
}

// monitoredItem is polled by the scheduler and reports the changes of one variable.
type monitoredItem struct {
	sync.Mutex
	sub     *Subscription
	handle  uint32
	node    *server.VariableNode
	last    ua.DataValue
	sampled bool
	stopped bool
}

// Poll implements server.PollListener.
func (mi *monitoredItem) Poll() {
	v := mi.node.Value()

	mi.Lock()
	if mi.stopped || (mi.sampled && !changed(mi.last, v)) {
		mi.Unlock()
		return
	}
	mi.last = v
	mi.sampled = true
	// delivered under the lock so a stopped item reports nothing more
	mi.sub.handler.OnDataChange(mirror.DataChange{
		NodeID: mi.node.NodeID(),
		Value:  v.Value,
		Data:   v,
	})
	mi.Unlock()
}

func (mi *monitoredItem) stop() {
	mi.Lock()
	mi.stopped = true
	mi.Unlock()
}

func changed(prev, cur ua.DataValue) bool {
	return prev.StatusCode != cur.StatusCode ||
		!prev.SourceTimestamp.Equal(cur.SourceTimestamp) ||
		!prev.ServerTimestamp.Equal(cur.ServerTimestamp) ||
		!reflect.DeepEqual(prev.Value, cur.Value)
}
