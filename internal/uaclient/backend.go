package uaclient

import (
	"context"
	"sync"
	"time"

	"github.com/amine-amaach/simulators/ramanOPCUA/internal/component"
	"github.com/amine-amaach/simulators/ramanOPCUA/internal/mirror"
	"github.com/awcullen/opcua/client"
	"github.com/awcullen/opcua/ua"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Session is the part of *client.Client the backend uses.
type Session interface {
	Browse(ctx context.Context, req *ua.BrowseRequest) (*ua.BrowseResponse, error)
	BrowseNext(ctx context.Context, req *ua.BrowseNextRequest) (*ua.BrowseNextResponse, error)
	Read(ctx context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error)
	Write(ctx context.Context, req *ua.WriteRequest) (*ua.WriteResponse, error)
	CreateSubscription(ctx context.Context, req *ua.CreateSubscriptionRequest) (*ua.CreateSubscriptionResponse, error)
	CreateMonitoredItems(ctx context.Context, req *ua.CreateMonitoredItemsRequest) (*ua.CreateMonitoredItemsResponse, error)
	DeleteMonitoredItems(ctx context.Context, req *ua.DeleteMonitoredItemsRequest) (*ua.DeleteMonitoredItemsResponse, error)
	Publish(ctx context.Context, req *ua.PublishRequest) (*ua.PublishResponse, error)
	DeleteSubscriptions(ctx context.Context, req *ua.DeleteSubscriptionsRequest) (*ua.DeleteSubscriptionsResponse, error)
	Close(ctx context.Context) error
	Abort(ctx context.Context) error
}

// Delay before a failed publish request is retried.
var publishRetryDelay = time.Second

// Backend mirrors objects of a remote server through a client session.
type Backend struct {
	session Session
	log     *logrus.Logger

	mu   sync.Mutex
	subs map[uint32]*Subscription
	// publish loop, running while subs is not empty
	stopPublish context.CancelFunc
	published   chan struct{}
}

// Dial opens a session to endpointURL with security policy None. The first user of
// users is used as identity, the session is anonymous when users is empty.
func Dial(ctx context.Context, endpointURL string, users []component.UserId, log *logrus.Logger) (*Backend, error) {
	opts := []client.Option{
		client.WithSecurityPolicyURI(ua.SecurityPolicyURINone, ua.MessageSecurityModeNone),
		client.WithInsecureSkipVerify(),
		client.WithApplicationName("RamanSpectrometerMirror"),
		client.WithSessionName("mirror"),
	}
	if len(users) > 0 {
		opts = append(opts, client.WithUserNameIdentity(users[0].Username, users[0].Password))
	}
	ch, err := client.Dial(ctx, endpointURL, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "opening session to %s", endpointURL)
	}
	log.WithField("Endpoint", endpointURL).Infoln("OPC UA session opened ✅")
	return New(ch, log), nil
}

// New returns a backend over an open session.
func New(session Session, log *logrus.Logger) *Backend {
	return &Backend{
		session: session,
		log:     log,
		subs:    make(map[uint32]*Subscription),
	}
}

// Close stops the publish loop and closes the session.
func (b *Backend) Close(ctx context.Context) error {
	b.mu.Lock()
	b.subs = make(map[uint32]*Subscription)
	stop := b.detachPublisher()
	b.mu.Unlock()
	stop()

	if err := b.session.Close(ctx); err != nil {
		b.log.WithError(err).Warnln("Closing OPC UA session failed, aborting 🔔")
		return b.session.Abort(ctx)
	}
	b.log.Infoln("OPC UA session closed")
	return nil
}

func (b *Backend) read(ctx context.Context, id ua.NodeID, attr uint32) (ua.Variant, error) {
	res, err := b.session.Read(ctx, &ua.ReadRequest{
		NodesToRead: []ua.ReadValueID{{NodeID: id, AttributeID: attr}},
	})
	if err != nil {
		return nil, err
	}
	if len(res.Results) != 1 {
		return nil, ua.BadUnexpectedError
	}
	if res.Results[0].StatusCode.IsBad() {
		return nil, res.Results[0].StatusCode
	}
	return res.Results[0].Value, nil
}

func (b *Backend) BrowseName(ctx context.Context, id ua.NodeID) (ua.QualifiedName, error) {
	v, err := b.read(ctx, id, ua.AttributeIDBrowseName)
	if err != nil {
		return ua.QualifiedName{}, err
	}
	name, ok := v.(ua.QualifiedName)
	if !ok {
		return ua.QualifiedName{}, ua.BadTypeMismatch
	}
	return name, nil
}

func (b *Backend) NodeClass(ctx context.Context, id ua.NodeID) (ua.NodeClass, error) {
	v, err := b.read(ctx, id, ua.AttributeIDNodeClass)
	if err != nil {
		return ua.NodeClassUnspecified, err
	}
	switch c := v.(type) {
	case int32:
		return ua.NodeClass(c), nil
	case ua.NodeClass:
		return c, nil
	default:
		return ua.NodeClassUnspecified, ua.BadTypeMismatch
	}
}

func (b *Backend) TypeDefinition(ctx context.Context, id ua.NodeID) (ua.NodeID, error) {
	ids, err := b.browse(ctx, id, ua.ReferenceTypeIDHasTypeDefinition, false, 0)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	return ids[0], nil
}

func (b *Backend) Children(ctx context.Context, id ua.NodeID) ([]ua.NodeID, error) {
	return b.browse(ctx, id, ua.ReferenceTypeIDHierarchicalReferences, true, 0)
}

func (b *Backend) Properties(ctx context.Context, id ua.NodeID) ([]ua.NodeID, error) {
	return b.browse(ctx, id, ua.ReferenceTypeIDHasProperty, false, 0)
}

func (b *Backend) Variables(ctx context.Context, id ua.NodeID) ([]ua.NodeID, error) {
	return b.browse(ctx, id, ua.ReferenceTypeIDHasComponent, true, uint32(ua.NodeClassVariable))
}

// browse returns the forward targets of id, following continuation points.
func (b *Backend) browse(ctx context.Context, id ua.NodeID, refType ua.NodeID, subtypes bool, classMask uint32) ([]ua.NodeID, error) {
	res, err := b.session.Browse(ctx, &ua.BrowseRequest{
		NodesToBrowse: []ua.BrowseDescription{
			{
				NodeID:          id,
				BrowseDirection: ua.BrowseDirectionForward,
				ReferenceTypeID: refType,
				IncludeSubtypes: subtypes,
				NodeClassMask:   classMask,
				ResultMask:      uint32(ua.BrowseResultMaskTargetInfo),
			},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(res.Results) != 1 {
		return nil, ua.BadUnexpectedError
	}
	result := res.Results[0]

	ids := []ua.NodeID{}
	for {
		if result.StatusCode.IsBad() {
			return nil, result.StatusCode
		}
		for _, r := range result.References {
			ids = append(ids, ua.ToNodeID(r.NodeID, nil))
		}
		if len(result.ContinuationPoint) == 0 {
			return ids, nil
		}
		next, err := b.session.BrowseNext(ctx, &ua.BrowseNextRequest{
			ContinuationPoints: []ua.ByteString{result.ContinuationPoint},
		})
		if err != nil {
			return nil, err
		}
		if len(next.Results) != 1 {
			return nil, ua.BadUnexpectedError
		}
		result = next.Results[0]
	}
}

// SetValue writes value without timestamps, the server stamps it.
func (b *Backend) SetValue(ctx context.Context, id ua.NodeID, value ua.Variant) error {
	return b.SetDataValue(ctx, id, ua.NewDataValue(value, ua.Good, time.Time{}, 0, time.Time{}, 0))
}

func (b *Backend) SetDataValue(ctx context.Context, id ua.NodeID, value ua.DataValue) error {
	res, err := b.session.Write(ctx, &ua.WriteRequest{
		NodesToWrite: []ua.WriteValue{{NodeID: id, AttributeID: ua.AttributeIDValue, Value: value}},
	})
	if err != nil {
		return err
	}
	if len(res.Results) != 1 {
		return ua.BadUnexpectedError
	}
	if res.Results[0].IsBad() {
		return res.Results[0]
	}
	return nil
}

func (b *Backend) CreateSubscription(ctx context.Context, interval time.Duration, handler mirror.DataChangeHandler) (mirror.Subscription, error) {
	if handler == nil {
		return nil, ua.BadInvalidArgument
	}
	res, err := b.session.CreateSubscription(ctx, &ua.CreateSubscriptionRequest{
		RequestedPublishingInterval: float64(interval / time.Millisecond),
		RequestedMaxKeepAliveCount:  30,
		RequestedLifetimeCount:      30 * 3,
		PublishingEnabled:           true,
	})
	if err != nil {
		return nil, err
	}
	s := &Subscription{
		backend:  b,
		id:       res.SubscriptionID,
		handler:  handler,
		interval: interval,
		nodes:    make(map[uint32]ua.NodeID),
	}

	b.mu.Lock()
	b.subs[s.id] = s
	if b.stopPublish == nil {
		b.startPublishing()
	}
	b.mu.Unlock()

	b.log.WithFields(logrus.Fields{
		"Subscription": s.id,
		"Interval":     interval,
	}).Debugln("Subscription created")
	return s, nil
}

func (b *Backend) remove(id uint32) {
	b.mu.Lock()
	delete(b.subs, id)
	stop := func() {}
	if len(b.subs) == 0 {
		stop = b.detachPublisher()
	}
	b.mu.Unlock()
	stop()
}

func (b *Backend) subscription(id uint32) (*Subscription, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[id]
	return s, ok
}

// startPublishing must be called with b.mu held.
func (b *Backend) startPublishing() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.stopPublish = cancel
	b.published = done
	go func() {
		defer close(done)
		b.publish(ctx)
	}()
}

// detachPublisher must be called with b.mu held. The returned func cancels the
// publish loop and waits for it to exit; it is called once b.mu is released.
func (b *Backend) detachPublisher() func() {
	cancel, done := b.stopPublish, b.published
	b.stopPublish, b.published = nil, nil
	if cancel == nil {
		return func() {}
	}
	return func() {
		cancel()
		<-done
	}
}

// publish keeps one publish request pending, acknowledges every received
// notification message and hands its data changes to the subscriptions.
func (b *Backend) publish(ctx context.Context) {
	acks := []ua.SubscriptionAcknowledgement{}
	for {
		res, err := b.session.Publish(ctx, &ua.PublishRequest{
			RequestHeader:                ua.RequestHeader{TimeoutHint: 60000},
			SubscriptionAcknowledgements: acks,
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			b.log.WithError(err).Warnln("Publish request failed 🔔")
			acks = []ua.SubscriptionAcknowledgement{}
			select {
			case <-ctx.Done():
				return
			case <-time.After(publishRetryDelay):
			}
			continue
		}

		acks = []ua.SubscriptionAcknowledgement{}
		// keep-alive messages carry no data and are not acknowledged
		if len(res.NotificationMessage.NotificationData) == 0 {
			continue
		}
		acks = append(acks, ua.SubscriptionAcknowledgement{
			SubscriptionID: res.SubscriptionID,
			SequenceNumber: res.NotificationMessage.SequenceNumber,
		})
		if s, ok := b.subscription(res.SubscriptionID); ok {
			s.dispatch(res.NotificationMessage.NotificationData)
		}
	}
}
