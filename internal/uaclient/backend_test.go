package uaclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/amine-amaach/simulators/ramanOPCUA/internal/mirror"
	"github.com/amine-amaach/simulators/ramanOPCUA/internal/mirror/mirrortest"
	"github.com/awcullen/opcua/ua"
	"github.com/sirupsen/logrus"
	"gotest.tools/assert"
	is "gotest.tools/assert/cmp"
	"gotest.tools/poll"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

func setup(t *testing.T) (*Backend, *fakeSession, *mirrortest.Server) {
	t.Helper()
	srv := mirrortest.NewSpectrometer(2, 4)
	f := newFakeSession(srv)
	b := New(f, quietLogger())
	t.Cleanup(func() { b.Close(context.Background()) })
	return b, f, srv
}

func browseNames(t *testing.T, b *Backend, ids []ua.NodeID) []string {
	names := []string{}
	for _, id := range ids {
		n, err := b.BrowseName(context.Background(), id)
		assert.NilError(t, err)
		names = append(names, n.Name)
	}
	return names
}

func TestBrowseFollowsContinuationPoints(t *testing.T) {
	b, f, srv := setup(t)
	f.page = 1
	ctx := context.Background()

	children, err := b.Children(ctx, srv.ID("Device.Channel1.Spectrum"))
	assert.NilError(t, err)
	assert.DeepEqual(t, browseNames(t, b, children), []string{"Label", "Intensity", "random_value", "Timestamp"})

	props, err := b.Properties(ctx, srv.ID("Device"))
	assert.NilError(t, err)
	assert.DeepEqual(t, browseNames(t, b, props), []string{"SerialNumber", "Model"})
}

func TestBrowseUnknownNode(t *testing.T) {
	b, _, srv := setup(t)

	_, err := b.Children(context.Background(), srv.ID("Device.Channel9"))
	assert.Equal(t, err, error(ua.BadNodeIDUnknown))
	_, err = b.BrowseName(context.Background(), srv.ID("Device.Channel9"))
	assert.Assert(t, errors.Is(err, ua.BadNodeIDUnknown))
}

func TestReadNodeClass(t *testing.T) {
	b, _, srv := setup(t)
	ctx := context.Background()

	class, err := b.NodeClass(ctx, srv.ID("Device.Channel2"))
	assert.NilError(t, err)
	assert.Equal(t, class, ua.NodeClassObject)
	class, err = b.NodeClass(ctx, srv.ID("Device.Channel2.Spectrum.Intensity"))
	assert.NilError(t, err)
	assert.Equal(t, class, ua.NodeClassVariable)
}

func TestWriteReportsStatus(t *testing.T) {
	b, _, srv := setup(t)
	ctx := context.Background()

	assert.NilError(t, b.SetValue(ctx, srv.ID("Device.Channel1.Spectrum.random_value"), 0.25))
	assert.Equal(t, srv.Value(srv.ID("Device.Channel1.Spectrum.random_value")), ua.Variant(0.25))
	assert.Equal(t, b.SetValue(ctx, srv.ID("Device.Channel1.Spectrum"), 1.0), error(ua.BadNotWritable))
}

func TestMirrorOverSession(t *testing.T) {
	b, f, srv := setup(t)
	ctx := context.Background()

	obj, err := mirror.Bind(ctx, b, srv.ID("Device.Channel1.Spectrum"), mirror.WithLogger(quietLogger()))
	assert.NilError(t, err)
	sub := obj.Subscription().(*Subscription)
	assert.Equal(t, sub.ID(), "1")
	assert.Equal(t, sub.Len(), 4)

	items := f.monitored(1)
	assert.Assert(t, is.Len(items, 4))
	for i, item := range items {
		assert.Equal(t, item.RequestedParameters.ClientHandle, obj.MonitoredItems()[i])
		assert.Equal(t, item.RequestedParameters.SamplingInterval, 500.0)
	}

	// handles follow the index: Label, Intensity, random_value, Timestamp
	src := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	f.responses <- &ua.PublishResponse{
		SubscriptionID: 1,
		NotificationMessage: ua.NotificationMessage{
			SequenceNumber: 1,
			NotificationData: []ua.ExtensionObject{
				ua.DataChangeNotification{MonitoredItems: []ua.MonitoredItemNotification{
					{ClientHandle: 2, Value: ua.NewDataValue([]float64{1, 2}, ua.Good, src, 0, src, 0)},
					{ClientHandle: 4, Value: ua.NewDataValue("2026-10-18T08:00:00Z", ua.Good, src, 0, src, 0)},
					{ClientHandle: 99, Value: ua.NewDataValue(1.0, ua.Good, src, 0, src, 0)},
				}},
			},
		},
	}
	waitField(t, obj, "Intensity", []float64{1, 2})
	waitField(t, obj, "Timestamp", "2026-10-18T08:00:00Z")

	// the next publish request acknowledges the message
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		acks := f.acks()
		if len(acks) < 2 {
			return poll.Continue("%d publish requests", len(acks))
		}
		if len(acks[1]) != 1 || acks[1][0].SequenceNumber != 1 || acks[1][0].SubscriptionID != 1 {
			return poll.Error(fmt.Errorf("unexpected acknowledgements %v", acks[1]))
		}
		return poll.Success()
	}, poll.WithDelay(10*time.Millisecond), poll.WithTimeout(3*time.Second))

	// keep-alive messages are not acknowledged
	f.responses <- &ua.PublishResponse{SubscriptionID: 1, NotificationMessage: ua.NotificationMessage{SequenceNumber: 2}}
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		acks := f.acks()
		if len(acks) < 3 {
			return poll.Continue("%d publish requests", len(acks))
		}
		if len(acks[2]) != 0 {
			return poll.Error(fmt.Errorf("keep-alive acknowledged %v", acks[2]))
		}
		return poll.Success()
	}, poll.WithDelay(10*time.Millisecond), poll.WithTimeout(3*time.Second))

	// write back through the session
	obj.Set("random_value", 0.75)
	assert.NilError(t, obj.WriteField(ctx, "random_value"))
	assert.Equal(t, srv.Value(srv.ID("Device.Channel1.Spectrum.random_value")), ua.Variant(0.75))

	assert.NilError(t, obj.Close(ctx))
	assert.DeepEqual(t, f.deletedSubs, []uint32{1})
	b.mu.Lock()
	assert.Assert(t, b.stopPublish == nil)
	b.mu.Unlock()
}

func TestRejectedMonitoredItemDeletesTheOthers(t *testing.T) {
	b, f, srv := setup(t)
	f.failItem[fmt.Sprint(srv.ID("Device.Channel1.Spectrum.random_value"))] = ua.BadNodeIDUnknown

	_, err := mirror.Bind(context.Background(), b, srv.ID("Device.Channel1.Spectrum"), mirror.WithLogger(quietLogger()))
	var bindErr *mirror.BindError
	assert.Assert(t, errors.As(err, &bindErr))
	assert.Equal(t, bindErr.Err, error(ua.BadNodeIDUnknown))
	assert.DeepEqual(t, f.deletedItems, []uint32{1, 2, 3})
	assert.DeepEqual(t, f.deletedSubs, []uint32{1})
}

func TestCloseClosesSession(t *testing.T) {
	b, f, _ := setup(t)
	_, err := b.CreateSubscription(context.Background(), time.Second, handlerFunc(func(mirror.DataChange) {}))
	assert.NilError(t, err)

	assert.NilError(t, b.Close(context.Background()))
	assert.Assert(t, f.closed)
	assert.Assert(t, b.stopPublish == nil)
}

type handlerFunc func(mirror.DataChange)

func (h handlerFunc) OnDataChange(c mirror.DataChange) { h(c) }

func waitField(t *testing.T, obj *mirror.Object, name string, want ua.Variant) {
	t.Helper()
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		got, ok := obj.Get(name)
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return poll.Continue("%s is %v, waiting for %v", name, got, want)
		}
		return poll.Success()
	}, poll.WithDelay(10*time.Millisecond), poll.WithTimeout(3*time.Second))
}
