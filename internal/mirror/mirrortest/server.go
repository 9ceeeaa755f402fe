// Package mirrortest provides an in-memory mirror.Backend for tests.
package mirrortest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amine-amaach/simulators/ramanOPCUA/internal/mirror"
	"github.com/awcullen/opcua/ua"
	"github.com/google/uuid"
)

type refKind int

const (
	organizes refKind = iota
	hasComponent
	hasProperty
)

type ref struct {
	kind   refKind
	target string
}

// Node is a node of the in-memory address space.
type Node struct {
	ID         ua.NodeID
	BrowseName ua.QualifiedName
	Class      ua.NodeClass
	TypeDef    ua.NodeID
	Value      ua.DataValue
	refs       []ref
}

// Write records one SetValue or SetDataValue call.
type Write struct {
	NodeID ua.NodeID
	Value  ua.DataValue
}

// Server is an in-memory address space implementing mirror.Backend. Value changes,
// including the ones made through the Backend, are delivered synchronously to the
// subscriptions monitoring the node.
type Server struct {
	mu     sync.Mutex
	ns     uint16
	nodes  map[string]*Node
	subs   map[string]*Subscription
	writes []Write

	// SkipInitialValues stops SubscribeDataChange from sending the current values.
	SkipInitialValues bool

	// Failure injection.
	FailBrowse             error
	FailCreateSubscription error
	FailSubscribe          error
	FailDelete             error
	FailSetValue           map[string]error
}

var _ mirror.Backend = (*Server)(nil)

// New returns an empty address space whose nodes live in namespace ns.
func New(ns uint16) *Server {
	return &Server{
		ns:           ns,
		nodes:        make(map[string]*Node),
		subs:         make(map[string]*Subscription),
		FailSetValue: make(map[string]error),
	}
}

// ID returns the string NodeID of the node named id in the server namespace.
func (s *Server) ID(id string) ua.NodeID {
	return ua.NodeIDString{NamespaceIndex: s.ns, ID: id}
}

func key(id ua.NodeID) string { return fmt.Sprint(id) }

func (s *Server) add(parent ua.NodeID, kind refKind, n *Node) ua.NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[key(n.ID)] = n
	if parent != nil {
		if p, ok := s.nodes[key(parent)]; ok {
			p.refs = append(p.refs, ref{kind, key(n.ID)})
		}
	}
	return n.ID
}

// AddObject adds an object under parent (nil for a root). typeDef may be nil.
func (s *Server) AddObject(parent ua.NodeID, id, name string, typeDef ua.NodeID) ua.NodeID {
	return s.add(parent, organizes, &Node{
		ID:         s.ID(id),
		BrowseName: ua.QualifiedName{NamespaceIndex: s.ns, Name: name},
		Class:      ua.NodeClassObject,
		TypeDef:    typeDef,
	})
}

// AddComponentObject adds an object referenced from parent by HasComponent.
func (s *Server) AddComponentObject(parent ua.NodeID, id, name string, typeDef ua.NodeID) ua.NodeID {
	return s.add(parent, hasComponent, &Node{
		ID:         s.ID(id),
		BrowseName: ua.QualifiedName{NamespaceIndex: s.ns, Name: name},
		Class:      ua.NodeClassObject,
		TypeDef:    typeDef,
	})
}

// AddVariable adds a variable referenced from parent by HasComponent.
func (s *Server) AddVariable(parent ua.NodeID, id, name string, value ua.Variant) ua.NodeID {
	return s.add(parent, hasComponent, &Node{
		ID:         s.ID(id),
		BrowseName: ua.QualifiedName{NamespaceIndex: s.ns, Name: name},
		Class:      ua.NodeClassVariable,
		TypeDef:    ua.VariableTypeIDBaseDataVariableType,
		Value:      goodValue(value),
	})
}

// AddProperty adds a variable referenced from parent by HasProperty.
func (s *Server) AddProperty(parent ua.NodeID, id, name string, value ua.Variant) ua.NodeID {
	return s.add(parent, hasProperty, &Node{
		ID:         s.ID(id),
		BrowseName: ua.QualifiedName{NamespaceIndex: s.ns, Name: name},
		Class:      ua.NodeClassVariable,
		TypeDef:    ua.VariableTypeIDPropertyType,
		Value:      goodValue(value),
	})
}

func goodValue(v ua.Variant) ua.DataValue {
	t := time.Now().UTC()
	return ua.NewDataValue(v, ua.Good, t, 0, t, 0)
}

func (s *Server) node(id ua.NodeID) (*Node, error) {
	n, ok := s.nodes[key(id)]
	if !ok {
		return nil, ua.BadNodeIDUnknown
	}
	return n, nil
}

func (s *Server) BrowseName(ctx context.Context, id ua.NodeID) (ua.QualifiedName, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailBrowse != nil {
		return ua.QualifiedName{}, s.FailBrowse
	}
	n, err := s.node(id)
	if err != nil {
		return ua.QualifiedName{}, err
	}
	return n.BrowseName, nil
}

func (s *Server) NodeClass(ctx context.Context, id ua.NodeID) (ua.NodeClass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.node(id)
	if err != nil {
		return ua.NodeClassUnspecified, err
	}
	return n.Class, nil
}

func (s *Server) TypeDefinition(ctx context.Context, id ua.NodeID) (ua.NodeID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.node(id)
	if err != nil {
		return nil, err
	}
	return n.TypeDef, nil
}

func (s *Server) targets(id ua.NodeID, match func(ref, *Node) bool) ([]ua.NodeID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.node(id)
	if err != nil {
		return nil, err
	}
	res := []ua.NodeID{}
	for _, r := range n.refs {
		if t, ok := s.nodes[r.target]; ok && match(r, t) {
			res = append(res, t.ID)
		}
	}
	return res, nil
}

func (s *Server) Children(ctx context.Context, id ua.NodeID) ([]ua.NodeID, error) {
	return s.targets(id, func(ref, *Node) bool { return true })
}

func (s *Server) Properties(ctx context.Context, id ua.NodeID) ([]ua.NodeID, error) {
	return s.targets(id, func(r ref, _ *Node) bool { return r.kind == hasProperty })
}

func (s *Server) Variables(ctx context.Context, id ua.NodeID) ([]ua.NodeID, error) {
	return s.targets(id, func(r ref, t *Node) bool {
		return r.kind == hasComponent && t.Class == ua.NodeClassVariable
	})
}

func (s *Server) CreateSubscription(ctx context.Context, interval time.Duration, handler mirror.DataChangeHandler) (mirror.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCreateSubscription != nil {
		return nil, s.FailCreateSubscription
	}
	sub := &Subscription{
		id:       uuid.NewString(),
		srv:      s,
		handler:  handler,
		Interval: interval,
		items:    make(map[string]uint32),
	}
	s.subs[sub.id] = sub
	return sub, nil
}

func (s *Server) SetValue(ctx context.Context, id ua.NodeID, value ua.Variant) error {
	return s.SetDataValue(ctx, id, goodValue(value))
}

func (s *Server) SetDataValue(ctx context.Context, id ua.NodeID, value ua.DataValue) error {
	s.mu.Lock()
	if err := s.FailSetValue[key(id)]; err != nil {
		s.mu.Unlock()
		return err
	}
	n, err := s.node(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if n.Class != ua.NodeClassVariable {
		s.mu.Unlock()
		return ua.BadNotWritable
	}
	n.Value = value
	s.writes = append(s.writes, Write{NodeID: id, Value: value})
	s.mu.Unlock()
	s.notify(id, value)
	return nil
}

// ExternalWrite changes a value the way another client would, without recording a Write.
func (s *Server) ExternalWrite(id ua.NodeID, value ua.Variant) {
	dv := goodValue(value)
	s.mu.Lock()
	n, err := s.node(id)
	if err != nil {
		s.mu.Unlock()
		panic(err)
	}
	n.Value = dv
	s.mu.Unlock()
	s.notify(id, dv)
}

// Deliver pushes a notification for id to every subscription, monitored or not.
func (s *Server) Deliver(id ua.NodeID, value ua.DataValue) {
	for _, sub := range s.subscriptions() {
		sub.handler.OnDataChange(mirror.DataChange{NodeID: id, Value: value.Value, Data: value})
	}
}

func (s *Server) notify(id ua.NodeID, value ua.DataValue) {
	for _, sub := range s.subscriptions() {
		if sub.Monitors(id) {
			sub.handler.OnDataChange(mirror.DataChange{NodeID: id, Value: value.Value, Data: value})
		}
	}
}

func (s *Server) subscriptions() []*Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		res = append(res, sub)
	}
	return res
}

// Value returns the current value of a node.
func (s *Server) Value(id ua.NodeID) ua.Variant {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.node(id)
	if err != nil {
		return nil
	}
	return n.Value.Value
}

// Writes returns the SetValue and SetDataValue calls received so far.
func (s *Server) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Write(nil), s.writes...)
}

// Subscriptions returns the live subscriptions.
func (s *Server) Subscriptions() []*Subscription {
	return s.subscriptions()
}

func (s *Server) skipInitial() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SkipInitialValues
}

// Subscription is a subscription of the in-memory server.
type Subscription struct {
	sync.Mutex
	id       string
	srv      *Server
	handler  mirror.DataChangeHandler
	items    map[string]uint32
	next     uint32
	Interval time.Duration
}

func (sub *Subscription) ID() string { return sub.id }

// SubscribeDataChange adds the items and delivers their current value, as a server
// sends the initial sample of a new monitored item.
func (sub *Subscription) SubscribeDataChange(ctx context.Context, nodes []ua.NodeID) ([]uint32, error) {
	sub.srv.mu.Lock()
	if sub.srv.FailSubscribe != nil {
		sub.srv.mu.Unlock()
		return nil, sub.srv.FailSubscribe
	}
	initial := make([]mirror.DataChange, 0, len(nodes))
	for _, id := range nodes {
		n, err := sub.srv.node(id)
		if err != nil {
			sub.srv.mu.Unlock()
			return nil, err
		}
		initial = append(initial, mirror.DataChange{NodeID: id, Value: n.Value.Value, Data: n.Value})
	}
	sub.srv.mu.Unlock()

	sub.Lock()
	handles := make([]uint32, len(nodes))
	for i, id := range nodes {
		sub.next++
		sub.items[key(id)] = sub.next
		handles[i] = sub.next
	}
	sub.Unlock()

	if sub.srv.skipInitial() {
		return handles, nil
	}
	for _, c := range initial {
		sub.handler.OnDataChange(c)
	}
	return handles, nil
}

func (sub *Subscription) Delete(ctx context.Context) error {
	sub.srv.mu.Lock()
	delete(sub.srv.subs, sub.id)
	sub.srv.mu.Unlock()
	sub.Lock()
	sub.items = make(map[string]uint32)
	sub.Unlock()
	sub.srv.mu.Lock()
	defer sub.srv.mu.Unlock()
	return sub.srv.FailDelete
}

// Monitors reports whether the subscription has a monitored item for id.
func (sub *Subscription) Monitors(id ua.NodeID) bool {
	sub.Lock()
	defer sub.Unlock()
	_, ok := sub.items[key(id)]
	return ok
}

// Len returns the number of monitored items.
func (sub *Subscription) Len() int {
	sub.Lock()
	defer sub.Unlock()
	return len(sub.items)
}
