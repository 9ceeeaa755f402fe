package uaclient

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/amine-amaach/simulators/ramanOPCUA/internal/mirror"
	"github.com/awcullen/opcua/ua"
	"github.com/sirupsen/logrus"
)

// Subscription is a server side subscription. Its monitored items report to handler.
type Subscription struct {
	sync.Mutex
	backend  *Backend
	id       uint32
	handler  mirror.DataChangeHandler
	interval time.Duration
	// client handle -> monitored node
	nodes   map[uint32]ua.NodeID
	items   []uint32
	next    uint32
	deleted bool
}

func (s *Subscription) ID() string { return strconv.FormatUint(uint64(s.id), 10) }

// SubscribeDataChange creates one monitored item per node. When the server rejects
// one of them, the others are deleted again and the rejection is returned.
func (s *Subscription) SubscribeDataChange(ctx context.Context, nodes []ua.NodeID) ([]uint32, error) {
	s.Lock()
	if s.deleted {
		s.Unlock()
		return nil, ua.BadSubscriptionIDInvalid
	}
	handles := make([]uint32, len(nodes))
	reqs := make([]ua.MonitoredItemCreateRequest, len(nodes))
	for i, id := range nodes {
		s.next++
		handles[i] = s.next
		// registered before the request so no early notification is lost
		s.nodes[s.next] = id
		reqs[i] = ua.MonitoredItemCreateRequest{
			ItemToMonitor:  ua.ReadValueID{NodeID: id, AttributeID: ua.AttributeIDValue},
			MonitoringMode: ua.MonitoringModeReporting,
			RequestedParameters: ua.MonitoringParameters{
				ClientHandle:     s.next,
				SamplingInterval: float64(s.interval / time.Millisecond),
				QueueSize:        1,
				DiscardOldest:    true,
			},
		}
	}
	s.Unlock()

	res, err := s.backend.session.CreateMonitoredItems(ctx, &ua.CreateMonitoredItemsRequest{
		SubscriptionID:     s.id,
		TimestampsToReturn: ua.TimestampsToReturnBoth,
		ItemsToCreate:      reqs,
	})
	if err == nil && len(res.Results) != len(nodes) {
		err = ua.BadUnexpectedError
	}
	if err == nil {
		for _, r := range res.Results {
			if r.StatusCode.IsBad() {
				err = r.StatusCode
				break
			}
		}
	}
	if err != nil {
		s.forget(handles)
		if res != nil {
			s.deleteItems(ctx, res.Results)
		}
		return nil, err
	}

	s.Lock()
	for _, r := range res.Results {
		s.items = append(s.items, r.MonitoredItemID)
	}
	s.Unlock()
	s.backend.log.WithFields(logrus.Fields{
		"Subscription": s.id,
		"Items":        len(nodes),
	}).Debugln("Monitored items created")
	return handles, nil
}

func (s *Subscription) forget(handles []uint32) {
	s.Lock()
	defer s.Unlock()
	for _, h := range handles {
		delete(s.nodes, h)
	}
}

func (s *Subscription) deleteItems(ctx context.Context, results []ua.MonitoredItemCreateResult) {
	ids := []uint32{}
	for _, r := range results {
		if r.StatusCode.IsGood() {
			ids = append(ids, r.MonitoredItemID)
		}
	}
	if len(ids) == 0 {
		return
	}
	if _, err := s.backend.session.DeleteMonitoredItems(ctx, &ua.DeleteMonitoredItemsRequest{
		SubscriptionID:   s.id,
		MonitoredItemIDs: ids,
	}); err != nil {
		s.backend.log.WithError(err).Warnln("Deleting monitored items failed 🔔")
	}
}

// Delete removes the subscription from the server. Notifications still in flight
// are dropped.
func (s *Subscription) Delete(ctx context.Context) error {
	s.Lock()
	if s.deleted {
		s.Unlock()
		return nil
	}
	s.deleted = true
	s.items = nil
	s.nodes = make(map[uint32]ua.NodeID)
	s.Unlock()

	s.backend.remove(s.id)
	res, err := s.backend.session.DeleteSubscriptions(ctx, &ua.DeleteSubscriptionsRequest{
		SubscriptionIDs: []uint32{s.id},
	})
	if err != nil {
		return err
	}
	if len(res.Results) == 1 && res.Results[0].IsBad() {
		return res.Results[0]
	}
	return nil
}

// Len returns the number of monitored items.
func (s *Subscription) Len() int {
	s.Lock()
	defer s.Unlock()
	return len(s.items)
}

// dispatch hands the data changes of one notification message to the handler.
func (s *Subscription) dispatch(data []ua.ExtensionObject) {
	s.Lock()
	defer s.Unlock()
	if s.deleted {
		return
	}
	for _, d := range data {
		var items []ua.MonitoredItemNotification
		switch n := d.(type) {
		case ua.DataChangeNotification:
			items = n.MonitoredItems
		case *ua.DataChangeNotification:
			items = n.MonitoredItems
		default:
			continue
		}
		for _, item := range items {
			id, ok := s.nodes[item.ClientHandle]
			if !ok {
				continue
			}
			s.handler.OnDataChange(mirror.DataChange{
				NodeID: id,
				Value:  item.Value.Value,
				Data:   item.Value,
			})
		}
	}
}
