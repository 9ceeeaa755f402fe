package mirror

import (
	"context"
	"sync"

	"github.com/amine-amaach/simulators/ramanOPCUA/internal/metrics"
	"github.com/awcullen/opcua/ua"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Object mirrors one OPC UA object node.
//
// The node index is a snapshot of the node's direct children taken by Bind; it is
// not refreshed if the server tree changes later. Every property and variable child
// has a field of the same name that follows the node through the subscription.
type Object struct {
	backend Backend
	nodeID  ua.NodeID
	name    ua.QualifiedName
	path    string
	opts    options
	log     *logrus.Entry

	// node index, by browse name, in browse order
	nodes map[string]Child
	order []string
	// subscribed node key -> field name
	subscribed map[string]string

	fields   *Fields
	notifier *ChangeNotifier
	sub      Subscription
	handles  []uint32

	closeOnce sync.Once
	closeErr  error
}

// Bind mirrors the object node id of backend.
//
// The node must exist and be an Object (or a View). Bind returns a *BindError when the
// node cannot be browsed, is of another class, or when the subscription is rejected;
// in the latter case the partially created subscription is deleted first.
func Bind(ctx context.Context, backend Backend, id ua.NodeID, opts ...Option) (*Object, error) {
	o := &Object{
		backend:    backend,
		nodeID:     id,
		opts:       defaultOptions(),
		nodes:      make(map[string]Child),
		subscribed: make(map[string]string),
		fields:     NewFields(),
	}
	for _, opt := range opts {
		opt(&o.opts)
	}

	name, err := backend.BrowseName(ctx, id)
	if err != nil {
		return nil, &BindError{NodeID: id, Reason: "node not reachable", Err: err}
	}
	o.name = name
	o.path = name.Name
	if o.opts.parent != nil {
		o.path = o.opts.parent.Path() + "/" + name.Name
	}
	o.log = o.opts.logger.WithField("Object", o.path)

	class, err := backend.NodeClass(ctx, id)
	if err != nil {
		return nil, &BindError{NodeID: id, Reason: "node class not readable", Err: err}
	}
	if class != ua.NodeClassObject && class != ua.NodeClassView {
		return nil, &BindError{NodeID: id, Reason: "node is a " + kindOfClass(class).String() + ", not an object"}
	}

	subscribable, err := o.index(ctx)
	if err != nil {
		return nil, &BindError{NodeID: id, Reason: "browsing children", Err: err}
	}

	o.notifier = newChangeNotifier(o)
	if len(subscribable) > 0 {
		if err := o.subscribe(ctx, subscribable); err != nil {
			o.notifier.stop()
			return nil, &BindError{NodeID: id, Reason: "subscription rejected", Err: err}
		}
	}

	metrics.BoundObjects.Inc()
	o.log.WithFields(logrus.Fields{
		"Children":   len(o.nodes),
		"Subscribed": len(subscribable),
		"Interval":   o.opts.samplingInterval,
	}).Infoln("Object mirrored ✅")
	return o, nil
}

// index fills the node index and declares a field per subscribable child.
func (o *Object) index(ctx context.Context) ([]ua.NodeID, error) {
	props, err := o.backend.Properties(ctx, o.nodeID)
	if err != nil {
		return nil, err
	}
	vars, err := o.backend.Variables(ctx, o.nodeID)
	if err != nil {
		return nil, err
	}
	children, err := o.backend.Children(ctx, o.nodeID)
	if err != nil {
		return nil, err
	}

	isProp := make(map[string]bool, len(props))
	for _, p := range props {
		isProp[nodeKey(p)] = true
	}

	// properties first, then variables, skipping nodes reached by both
	subscribable := make([]ua.NodeID, 0, len(props)+len(vars))
	seen := make(map[string]bool, len(props)+len(vars))
	for _, n := range append(append([]ua.NodeID{}, props...), vars...) {
		if k := nodeKey(n); !seen[k] {
			seen[k] = true
			subscribable = append(subscribable, n)
		}
	}

	// node key -> browse name of the index entry holding it
	named := make(map[string]string, len(children)+len(subscribable))
	add := func(n ua.NodeID) error {
		bn, err := o.backend.BrowseName(ctx, n)
		if err != nil {
			return errors.Wrapf(err, "browse name of %v", n)
		}
		class, err := o.backend.NodeClass(ctx, n)
		if err != nil {
			return errors.Wrapf(err, "node class of %v", n)
		}
		kind := kindOfClass(class)
		if isProp[nodeKey(n)] {
			kind = KindProperty
		}
		if prev, ok := o.nodes[bn.Name]; ok {
			if nodeKey(prev.NodeID) == nodeKey(n) {
				return nil
			}
			o.log.WithFields(logrus.Fields{
				"Child":    bn.Name,
				"Previous": nodeKey(prev.NodeID),
				"Node Id":  nodeKey(n),
			}).Warnln("Duplicate browse name, the last child wins 🔔")
			delete(named, nodeKey(prev.NodeID))
		} else {
			o.order = append(o.order, bn.Name)
		}
		o.nodes[bn.Name] = Child{NodeID: n, BrowseName: bn, NodeClass: class, Kind: kind}
		named[nodeKey(n)] = bn.Name
		return nil
	}

	for _, n := range children {
		if err := add(n); err != nil {
			return nil, err
		}
	}
	// a subscribable node always has an index entry, even if it was not listed as a child
	for _, n := range subscribable {
		if err := add(n); err != nil {
			return nil, err
		}
	}

	for _, n := range subscribable {
		if name, ok := named[nodeKey(n)]; ok {
			o.subscribed[nodeKey(n)] = name
			o.fields.Declare(name)
		}
	}
	return subscribable, nil
}

func (o *Object) subscribe(ctx context.Context, nodes []ua.NodeID) error {
	sub, err := o.backend.CreateSubscription(ctx, o.opts.samplingInterval, o.notifier)
	if err != nil {
		return err
	}
	handles, err := sub.SubscribeDataChange(ctx, nodes)
	if err != nil {
		if derr := sub.Delete(ctx); derr != nil {
			o.log.WithFields(logrus.Fields{
				"Subscription": sub.ID(),
				"Err":          derr,
			}).Errorln("Unable to delete partial subscription ⛔")
		}
		return err
	}
	o.sub = sub
	o.handles = handles
	return nil
}

// fieldFor resolves a subscribed node to its field name.
func (o *Object) fieldFor(id ua.NodeID) (string, bool) {
	name, ok := o.subscribed[nodeKey(id)]
	return name, ok
}

// Name returns the browse name of the mirrored node.
func (o *Object) Name() string { return o.name.Name }

// BrowseName returns the qualified browse name of the mirrored node.
func (o *Object) BrowseName() ua.QualifiedName { return o.name }

// NodeID returns the mirrored node.
func (o *Object) NodeID() ua.NodeID { return o.nodeID }

// Path returns the browse names from the outermost parent, e.g. "Device/Channel1/Spectrum".
func (o *Object) Path() string { return o.path }

// Backend returns the backend the object is bound through.
func (o *Object) Backend() Backend { return o.backend }

// Logger returns the logger of the object.
func (o *Object) Logger() *logrus.Entry { return o.log }

// Node returns the index entry of a direct child.
func (o *Object) Node(name string) (Child, bool) {
	c, ok := o.nodes[name]
	return c, ok
}

// Nodes returns the index entries in browse order.
func (o *Object) Nodes() []Child {
	res := make([]Child, 0, len(o.order))
	for _, name := range o.order {
		res = append(res, o.nodes[name])
	}
	return res
}

// Subscription returns the subscription of the object, nil if it has nothing to subscribe.
func (o *Object) Subscription() Subscription { return o.sub }

// MonitoredItems returns the handles of the monitored items of the subscription.
func (o *Object) MonitoredItems() []uint32 { return append([]uint32(nil), o.handles...) }

// Subscribed reports whether the node is covered by the subscription of the object.
func (o *Object) Subscribed(id ua.NodeID) bool {
	_, ok := o.subscribed[nodeKey(id)]
	return ok
}

// Fields returns the field store of the object.
func (o *Object) Fields() *Fields { return o.fields }

// Get returns the local value of a field.
func (o *Object) Get(name string) (ua.Variant, bool) { return o.fields.Get(name) }

// DataValue returns the local value of a field with its status and timestamps.
func (o *Object) DataValue(name string) (ua.DataValue, bool) { return o.fields.DataValue(name) }

// Set assigns a field locally. Nothing is sent to the server until Write.
func (o *Object) Set(name string, value ua.Variant) { o.fields.Set(name, value) }

// Declare adds a local only field, one that has no node on the server.
func (o *Object) Declare(name string, value ua.Variant) {
	o.fields.Set(name, value)
}

// Write pushes the field of every Variable of the node index to its node. Properties
// are skipped. The first failure aborts the remaining writes and is returned as is.
func (o *Object) Write(ctx context.Context) error {
	for _, name := range o.order {
		c := o.nodes[name]
		if c.Kind != KindVariable {
			continue
		}
		if err := o.push(ctx, name, c); err != nil {
			return err
		}
	}
	return nil
}

// WriteField pushes the named field to its node.
func (o *Object) WriteField(ctx context.Context, name string) error {
	c, ok := o.nodes[name]
	if !ok {
		return &UnknownFieldError{Object: o.path, Field: name}
	}
	if c.Kind != KindVariable {
		return &NotWritableError{Object: o.path, Field: name, Kind: c.Kind}
	}
	return o.push(ctx, name, c)
}

func (o *Object) push(ctx context.Context, name string, c Child) error {
	value, ok := o.fields.Get(name)
	if !ok {
		metrics.Writes.WithLabelValues(o.path, "missing").Inc()
		return errors.Wrapf(ErrFieldMissing, "%s.%s", o.path, name)
	}
	if err := o.backend.SetValue(ctx, c.NodeID, value); err != nil {
		metrics.Writes.WithLabelValues(o.path, "error").Inc()
		o.log.WithFields(logrus.Fields{
			"Field": name,
			"Err":   err,
		}).Errorln("Unable to write field ⛔")
		return err
	}
	metrics.Writes.WithLabelValues(o.path, "ok").Inc()
	return nil
}

// Close deletes the subscription and stops the notifier. Notifications already
// queued are applied first.
func (o *Object) Close(ctx context.Context) error {
	o.closeOnce.Do(func() {
		if o.sub != nil {
			o.closeErr = o.sub.Delete(ctx)
		}
		o.notifier.stop()
		metrics.BoundObjects.Dec()
		o.log.Debugln("Object released")
	})
	return o.closeErr
}

func kindOfClass(class ua.NodeClass) Kind {
	switch class {
	case ua.NodeClassObject:
		return KindObject
	case ua.NodeClassVariable:
		return KindVariable
	default:
		return KindOther
	}
}
