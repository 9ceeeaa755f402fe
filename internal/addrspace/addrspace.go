// Package addrspace populates the server with the spectrometer node tree:
//
//	Objects
//	  Device (SerialNumber, Model)
//	    Channel1..N
//	      Spectrum (Label, Intensity, Timestamp; random_value on Channel1)
package addrspace

import (
	"fmt"
	"time"

	"github.com/awcullen/opcua/server"
	"github.com/awcullen/opcua/ua"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DeviceName    = "Device"
	SpectrumName  = "Spectrum"
	IntensityName = "Intensity"
	TimestampName = "Timestamp"
	RandomName    = "random_value"
	LabelName     = "Label"
)

// Layout gives the NodeIDs of the spectrometer tree in one namespace.
type Layout struct {
	NS       uint16
	Channels int
}

func (l Layout) id(s string) ua.NodeID { return ua.NodeIDString{NamespaceIndex: l.NS, ID: s} }

func (l Layout) name(s string) ua.QualifiedName {
	return ua.QualifiedName{NamespaceIndex: l.NS, Name: s}
}

// ChannelName returns the browse name of channel i, counting from 1.
func ChannelName(i int) string { return fmt.Sprintf("Channel%d", i) }

func (l Layout) Device() ua.NodeID { return l.id(DeviceName) }

func (l Layout) Channel(i int) ua.NodeID { return l.id(DeviceName + "." + ChannelName(i)) }

func (l Layout) Spectrum(i int) ua.NodeID {
	return l.id(DeviceName + "." + ChannelName(i) + "." + SpectrumName)
}

func (l Layout) Intensity(i int) ua.NodeID { return l.spectrumChild(i, IntensityName) }

func (l Layout) Timestamp(i int) ua.NodeID { return l.spectrumChild(i, TimestampName) }

func (l Layout) Label(i int) ua.NodeID { return l.spectrumChild(i, LabelName) }

// RandomValue is the scalar historized by the server. Only Channel1 has one.
func (l Layout) RandomValue() ua.NodeID { return l.spectrumChild(1, RandomName) }

func (l Layout) spectrumChild(i int, name string) ua.NodeID {
	return l.id(DeviceName + "." + ChannelName(i) + "." + SpectrumName + "." + name)
}

// Builder adds the tree to a server namespace.
type Builder struct {
	srv    *server.Server
	layout Layout
	info   DeviceInfo
	log    *logrus.Logger
}

// DeviceInfo holds the values of the Device properties.
type DeviceInfo struct {
	SerialNumber string
	Model        string
}

func NewBuilder(srv *server.Server, layout Layout, info DeviceInfo, log *logrus.Logger) *Builder {
	return &Builder{srv: srv, layout: layout, info: info, log: log}
}

// Build adds the Device object and its channels.
func (b *Builder) Build() error {
	l := b.layout
	nodes := []server.Node{
		b.object(l.Device(), DeviceName, "Simulated Raman spectrometer.", ua.ObjectIDObjectsFolder, ua.ReferenceTypeIDOrganizes, ua.ObjectTypeIDBaseObjectType),
		b.property(l.id(DeviceName+".SerialNumber"), "SerialNumber", l.Device(), ua.NewDataValue(b.info.SerialNumber, 0, now(), 0, now(), 0)),
		b.property(l.id(DeviceName+".Model"), "Model", l.Device(), ua.NewDataValue(b.info.Model, 0, now(), 0, now(), 0)),
	}
	for i := 1; i <= l.Channels; i++ {
		name := ChannelName(i)
		nodes = append(nodes,
			b.object(l.Channel(i), name, fmt.Sprintf("Acquisition channel %d.", i), l.Device(), ua.ReferenceTypeIDOrganizes, ua.ObjectTypeIDFolderType),
			b.object(l.Spectrum(i), SpectrumName, "Last spectrum of the channel.", l.Channel(i), ua.ReferenceTypeIDOrganizes, ua.ObjectTypeIDFolderType),
			b.property(l.Label(i), LabelName, l.Spectrum(i), ua.NewDataValue(name, 0, now(), 0, now(), 0)),
			b.variable(l.Intensity(i), IntensityName, l.Spectrum(i), ua.DataTypeIDDouble, ua.ValueRankOneDimension,
				ua.NewDataValue([]float64{}, ua.BadWaitingForInitialData, now(), 0, now(), 0), false),
		)
		if i == 1 {
			nodes = append(nodes, b.variable(l.RandomValue(), RandomName, l.Spectrum(i), ua.DataTypeIDDouble, ua.ValueRankScalar,
				ua.NewDataValue(0.0, 0, now(), 0, now(), 0), true))
		}
		nodes = append(nodes, b.variable(l.Timestamp(i), TimestampName, l.Spectrum(i), ua.DataTypeIDString, ua.ValueRankScalar,
			ua.NewDataValue("", ua.BadWaitingForInitialData, now(), 0, now(), 0), false))
	}

	// parents first, so the forward references are added in browse order
	for _, n := range nodes {
		if err := b.srv.NamespaceManager().AddNode(n); err != nil {
			return errors.Wrapf(err, "adding %v", n.NodeID())
		}
	}
	b.log.WithFields(logrus.Fields{
		"Channels": l.Channels,
		"Nodes":    len(nodes),
	}).Infoln("Spectrometer address space built ✅")
	return nil
}

func (b *Builder) object(id ua.NodeID, name, description string, parent ua.NodeID, refType ua.NodeID, typeDef ua.NodeID) *server.ObjectNode {
	return server.NewObjectNode(
		b.srv,
		id,
		b.layout.name(name),
		ua.LocalizedText{Text: name},
		ua.LocalizedText{Text: description},
		nil,
		[]ua.Reference{
			{
				ReferenceTypeID: ua.ReferenceTypeIDHasTypeDefinition,
				TargetID:        ua.ExpandedNodeID{NodeID: typeDef},
			},
			{
				ReferenceTypeID: refType,
				IsInverse:       true,
				TargetID:        ua.ExpandedNodeID{NodeID: parent},
			},
		},
		ua.EventNotifierNone,
	)
}

func (b *Builder) property(id ua.NodeID, name string, parent ua.NodeID, value ua.DataValue) *server.VariableNode {
	return server.NewVariableNode(
		b.srv,
		id,
		b.layout.name(name),
		ua.LocalizedText{Text: name},
		ua.LocalizedText{Text: fmt.Sprint(name, " of ", parentName(parent))},
		nil,
		[]ua.Reference{
			{
				ReferenceTypeID: ua.ReferenceTypeIDHasTypeDefinition,
				TargetID:        ua.ExpandedNodeID{NodeID: ua.VariableTypeIDPropertyType},
			},
			{
				ReferenceTypeID: ua.ReferenceTypeIDHasProperty,
				IsInverse:       true,
				TargetID:        ua.ExpandedNodeID{NodeID: parent},
			},
		},
		value,
		ua.DataTypeIDString,
		ua.ValueRankScalar,
		[]uint32{},
		ua.AccessLevelsCurrentRead,
		0.0,
		false,
		nil,
	)
}

func (b *Builder) variable(id ua.NodeID, name string, parent ua.NodeID, dataType ua.NodeID, rank int32, value ua.DataValue, history bool) *server.VariableNode {
	access := ua.AccessLevelsCurrentRead | ua.AccessLevelsCurrentWrite
	if history {
		access |= ua.AccessLevelsHistoryRead
	}
	dims := []uint32{}
	if rank == ua.ValueRankOneDimension {
		dims = []uint32{0}
	}
	return server.NewVariableNode(
		b.srv,
		id,
		b.layout.name(name),
		ua.LocalizedText{Text: name},
		ua.LocalizedText{Text: fmt.Sprint(name, " of ", parentName(parent))},
		nil,
		[]ua.Reference{
			{
				ReferenceTypeID: ua.ReferenceTypeIDHasTypeDefinition,
				TargetID:        ua.ExpandedNodeID{NodeID: ua.VariableTypeIDBaseDataVariableType},
			},
			{
				ReferenceTypeID: ua.ReferenceTypeIDHasComponent,
				IsInverse:       true,
				TargetID:        ua.ExpandedNodeID{NodeID: parent},
			},
		},
		value,
		dataType,
		rank,
		dims,
		access,
		100.0,
		false,
		b.srv.Historian(),
	)
}

// Load imports a UANodeSet XML file. The file must describe the same tree.
func Load(srv *server.Server, path string, log *logrus.Logger) error {
	if err := srv.NamespaceManager().LoadNodeSetFromFile(path); err != nil {
		return errors.Wrapf(err, "loading nodeset %s", path)
	}
	log.WithField("File", path).Infoln("Nodeset imported ✅")
	return nil
}

func parentName(id ua.NodeID) string {
	if s, ok := id.(ua.NodeIDString); ok {
		return s.ID
	}
	return fmt.Sprint(id)
}

func now() time.Time { return time.Now().UTC() }
