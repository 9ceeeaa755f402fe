// Package uabackend mirrors objects of the in-process OPC UA server.
package uabackend

import (
	"context"
	"time"

	"github.com/amine-amaach/simulators/ramanOPCUA/internal/mirror"
	"github.com/awcullen/opcua/server"
	"github.com/awcullen/opcua/ua"
	"github.com/sirupsen/logrus"
)

// Backend implements mirror.Backend directly over the namespace of a server.
// Subscriptions sample their variables on the server scheduler, the same way the
// server samples the monitored items of its clients.
type Backend struct {
	srv *server.Server
	log *logrus.Logger
}

var _ mirror.Backend = (*Backend)(nil)

func New(srv *server.Server, log *logrus.Logger) *Backend {
	return &Backend{srv: srv, log: log}
}

func (b *Backend) find(id ua.NodeID) (server.Node, error) {
	n, ok := b.srv.NamespaceManager().FindNode(id)
	if !ok {
		return nil, ua.BadNodeIDUnknown
	}
	return n, nil
}

func (b *Backend) BrowseName(ctx context.Context, id ua.NodeID) (ua.QualifiedName, error) {
	n, err := b.find(id)
	if err != nil {
		return ua.QualifiedName{}, err
	}
	return n.BrowseName(), nil
}

func (b *Backend) NodeClass(ctx context.Context, id ua.NodeID) (ua.NodeClass, error) {
	n, err := b.find(id)
	if err != nil {
		return ua.NodeClassUnspecified, err
	}
	return n.NodeClass(), nil
}

func (b *Backend) TypeDefinition(ctx context.Context, id ua.NodeID) (ua.NodeID, error) {
	n, err := b.find(id)
	if err != nil {
		return nil, err
	}
	for _, r := range n.References() {
		if !r.IsInverse && r.ReferenceTypeID == ua.ReferenceTypeIDHasTypeDefinition {
			return ua.ToNodeID(r.TargetID, b.srv.NamespaceUris()), nil
		}
	}
	return nil, nil
}

// targets returns the existing targets of the forward references of id accepted by match.
func (b *Backend) targets(id ua.NodeID, match func(refType ua.NodeID, target server.Node) bool) ([]ua.NodeID, error) {
	n, err := b.find(id)
	if err != nil {
		return nil, err
	}
	nm := b.srv.NamespaceManager()
	uris := b.srv.NamespaceUris()
	res := []ua.NodeID{}
	for _, r := range n.References() {
		if r.IsInverse {
			continue
		}
		t, ok := nm.FindNode(ua.ToNodeID(r.TargetID, uris))
		if !ok || !match(r.ReferenceTypeID, t) {
			continue
		}
		res = append(res, t.NodeID())
	}
	return res, nil
}

func (b *Backend) isA(refType, super ua.NodeID) bool {
	return refType == super || b.srv.NamespaceManager().IsSubtype(refType, super)
}

func (b *Backend) Children(ctx context.Context, id ua.NodeID) ([]ua.NodeID, error) {
	return b.targets(id, func(refType ua.NodeID, _ server.Node) bool {
		return b.isA(refType, ua.ReferenceTypeIDHierarchicalReferences)
	})
}

func (b *Backend) Properties(ctx context.Context, id ua.NodeID) ([]ua.NodeID, error) {
	return b.targets(id, func(refType ua.NodeID, _ server.Node) bool {
		return refType == ua.ReferenceTypeIDHasProperty
	})
}

func (b *Backend) Variables(ctx context.Context, id ua.NodeID) ([]ua.NodeID, error) {
	return b.targets(id, func(refType ua.NodeID, t server.Node) bool {
		return b.isA(refType, ua.ReferenceTypeIDHasComponent) && t.NodeClass() == ua.NodeClassVariable
	})
}

func (b *Backend) SetValue(ctx context.Context, id ua.NodeID, value ua.Variant) error {
	t := time.Now().UTC()
	return b.SetDataValue(ctx, id, ua.NewDataValue(value, ua.Good, t, 0, t, 0))
}

func (b *Backend) SetDataValue(ctx context.Context, id ua.NodeID, value ua.DataValue) error {
	n, err := b.find(id)
	if err != nil {
		return err
	}
	v, ok := n.(*server.VariableNode)
	if !ok {
		return ua.BadNotWritable
	}
	if value.ServerTimestamp.IsZero() {
		value.ServerTimestamp = time.Now().UTC()
	}
	v.SetValue(value)
	return nil
}

func (b *Backend) CreateSubscription(ctx context.Context, interval time.Duration, handler mirror.DataChangeHandler) (mirror.Subscription, error) {
	if handler == nil {
		return nil, ua.BadInvalidArgument
	}
	select {
	case <-b.srv.Closing():
		return nil, ua.BadServerHalted
	default:
	}
	return newSubscription(b, interval, handler), nil
}
