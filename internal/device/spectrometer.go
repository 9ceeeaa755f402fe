// Package device mirrors the spectrometer tree: the Device object, its channels and
// the spectrum of each channel.
package device

import (
	"context"
	"fmt"

	"github.com/amine-amaach/simulators/ramanOPCUA/internal/mirror"
	"github.com/awcullen/opcua/ua"
	"github.com/sirupsen/logrus"
)

// Local only value, it has no node on the server.
const (
	TestValField = "testval"
	testVal      = "local only"
)

// ChannelType is the type definition of channel objects. Object children of another
// type are ignored unless no child has this type.
var ChannelType ua.NodeID = ua.ObjectTypeIDFolderType

// Spectrometer mirrors the Device object.
type Spectrometer struct {
	*mirror.Object
	channels []*Channel
}

// Bind mirrors the Device object id and every channel below it.
func Bind(ctx context.Context, backend mirror.Backend, id ua.NodeID, opts ...mirror.Option) (*Spectrometer, error) {
	obj, err := mirror.Bind(ctx, backend, id, opts...)
	if err != nil {
		return nil, err
	}
	s := &Spectrometer{Object: obj}
	s.Declare(TestValField, testVal)

	nodes, err := channelNodes(ctx, obj)
	if err != nil {
		release(ctx, s, obj.Logger())
		return nil, err
	}
	for _, c := range nodes {
		ch, err := bindChannel(ctx, backend, c.NodeID, withParent(opts, obj)...)
		if err != nil {
			release(ctx, s, obj.Logger())
			return nil, err
		}
		s.channels = append(s.channels, ch)
	}

	obj.Logger().WithFields(logrus.Fields{
		"SerialNumber": s.SerialNumber(),
		"Channels":     len(s.channels),
	}).Infoln("Spectrometer mirrored ✅")
	return s, nil
}

// channelNodes returns the object children of obj typed ChannelType, or all of them
// when none is.
func channelNodes(ctx context.Context, obj *mirror.Object) ([]mirror.Child, error) {
	objects := []mirror.Child{}
	typed := []mirror.Child{}
	for _, c := range obj.Nodes() {
		if c.Kind != mirror.KindObject {
			continue
		}
		objects = append(objects, c)
		def, err := obj.Backend().TypeDefinition(ctx, c.NodeID)
		if err != nil {
			return nil, &mirror.BindError{NodeID: c.NodeID, Reason: "type definition not readable", Err: err}
		}
		if def != nil && ChannelType != nil && fmt.Sprint(def) == fmt.Sprint(ChannelType) {
			typed = append(typed, c)
		}
	}
	if len(typed) > 0 {
		return typed, nil
	}
	return objects, nil
}

// withParent returns opts with the parent set last so it wins.
func withParent(opts []mirror.Option, parent *mirror.Object) []mirror.Option {
	res := make([]mirror.Option, 0, len(opts)+1)
	res = append(res, opts...)
	return append(res, mirror.WithParent(parent))
}

func (s *Spectrometer) SerialNumber() string { return stringField(s.Object, "SerialNumber") }

func (s *Spectrometer) Model() string { return stringField(s.Object, "Model") }

func (s *Spectrometer) TestVal() string { return stringField(s.Object, TestValField) }

// Channels returns the channels in browse order.
func (s *Spectrometer) Channels() []*Channel { return append([]*Channel(nil), s.channels...) }

// Channel returns the channel with the given browse name, e.g. "Channel2".
func (s *Spectrometer) Channel(name string) (*Channel, bool) {
	for _, c := range s.channels {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// Close releases the channels, then the Device object. The first error is returned.
func (s *Spectrometer) Close(ctx context.Context) error {
	var first error
	for _, c := range s.channels {
		if err := c.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	if err := s.Object.Close(ctx); err != nil && first == nil {
		first = err
	}
	return first
}

func stringField(o *mirror.Object, name string) string {
	v, ok := o.Get(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// release closes c after a failed bind. The bind error is the one returned.
func release(ctx context.Context, c interface{ Close(context.Context) error }, log *logrus.Entry) {
	if err := c.Close(ctx); err != nil {
		log.WithField("Err", err).Warnln("Unable to release object after a failed bind 🔔")
	}
}
