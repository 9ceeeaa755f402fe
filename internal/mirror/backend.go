package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/awcullen/opcua/ua"
)

// Backend is what the mirror needs from an OPC UA stack. It is implemented over
// the in-process server (package uabackend) and over a client session (package uaclient).
type Backend interface {
	BrowseName(ctx context.Context, id ua.NodeID) (ua.QualifiedName, error)
	NodeClass(ctx context.Context, id ua.NodeID) (ua.NodeClass, error)
	// TypeDefinition returns the target of the HasTypeDefinition reference, or nil.
	TypeDefinition(ctx context.Context, id ua.NodeID) (ua.NodeID, error)
	// Children returns the targets of the forward hierarchical references.
	Children(ctx context.Context, id ua.NodeID) ([]ua.NodeID, error)
	// Properties returns the targets of the forward HasProperty references.
	Properties(ctx context.Context, id ua.NodeID) ([]ua.NodeID, error)
	// Variables returns the Variable targets of the forward HasComponent references.
	Variables(ctx context.Context, id ua.NodeID) ([]ua.NodeID, error)
	CreateSubscription(ctx context.Context, interval time.Duration, handler DataChangeHandler) (Subscription, error)
	SetValue(ctx context.Context, id ua.NodeID, value ua.Variant) error
	SetDataValue(ctx context.Context, id ua.NodeID, value ua.DataValue) error
}

// Subscription is a data change subscription created by a Backend.
type Subscription interface {
	ID() string
	// SubscribeDataChange adds one monitored item per node and returns their handles.
	SubscribeDataChange(ctx context.Context, nodes []ua.NodeID) ([]uint32, error)
	// Delete removes the subscription and all its monitored items.
	Delete(ctx context.Context) error
}

// DataChangeHandler receives the notifications of a Subscription. OnDataChange is called
// from the backend's delivery goroutine and must not block.
type DataChangeHandler interface {
	OnDataChange(change DataChange)
}

// DataChange is one data change notification.
type DataChange struct {
	NodeID ua.NodeID
	// Value is the bare value as reported by the stack.
	Value ua.Variant
	// Data is the value and source timestamp delivered by the notification channel.
	Data ua.DataValue
}

// Kind tells how a child of a mirrored object may be used.
type Kind int

const (
	KindOther Kind = iota
	KindObject
	KindVariable
	KindProperty
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "Object"
	case KindVariable:
		return "Variable"
	case KindProperty:
		return "Property"
	default:
		return "Other"
	}
}

// Child is an entry of the node index of an Object.
type Child struct {
	NodeID     ua.NodeID
	BrowseName ua.QualifiedName
	NodeClass  ua.NodeClass
	Kind       Kind
}

// nodeKey is the map key of a NodeID, e.g. "ns=2;s=Device".
func nodeKey(id ua.NodeID) string {
	return fmt.Sprint(id)
}
