package addrspace_test

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/amine-amaach/simulators/ramanOPCUA/internal/addrspace"
	"github.com/amine-amaach/simulators/ramanOPCUA/internal/component"
	"github.com/amine-amaach/simulators/ramanOPCUA/internal/uasrv"
	"github.com/awcullen/opcua/ua"
	"github.com/sirupsen/logrus"
	"gotest.tools/assert"
	is "gotest.tools/assert/cmp"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

func newService(t *testing.T) *uasrv.Service {
	t.Helper()
	s, err := uasrv.New(component.Server{
		Host:         "localhost",
		Port:         49320,
		ServerName:   "Raman Spectrometer Simulation Server",
		NamespaceURI: "http://mynamespace",
		PKIDir:       filepath.Join(t.TempDir(), "pki"),
	}, quietLogger())
	assert.NilError(t, err)
	return s
}

func forwardTargets(s *uasrv.Service, id ua.NodeID, refType ua.NodeID) []string {
	n, ok := s.Server().NamespaceManager().FindNode(id)
	if !ok {
		return nil
	}
	res := []string{}
	for _, r := range n.References() {
		if r.IsInverse || r.ReferenceTypeID != refType {
			continue
		}
		if t, ok := s.Server().NamespaceManager().FindNode(ua.ToNodeID(r.TargetID, s.Server().NamespaceUris())); ok {
			res = append(res, t.BrowseName().Name)
		}
	}
	return res
}

func checkTree(t *testing.T, s *uasrv.Service, l addrspace.Layout) {
	t.Helper()
	nm := s.Server().NamespaceManager()

	dev, ok := nm.FindNode(l.Device())
	assert.Assert(t, ok)
	assert.Equal(t, dev.NodeClass(), ua.NodeClassObject)
	assert.Equal(t, dev.BrowseName().Name, "Device")
	assert.Assert(t, is.Contains(forwardTargets(s, ua.ObjectIDObjectsFolder, ua.ReferenceTypeIDOrganizes), "Device"))
	assert.DeepEqual(t, forwardTargets(s, l.Device(), ua.ReferenceTypeIDHasProperty), []string{"SerialNumber", "Model"})
	assert.DeepEqual(t, forwardTargets(s, l.Device(), ua.ReferenceTypeIDOrganizes), []string{"Channel1", "Channel2", "Channel3", "Channel4"})

	for i := 1; i <= l.Channels; i++ {
		assert.DeepEqual(t, forwardTargets(s, l.Channel(i), ua.ReferenceTypeIDOrganizes), []string{"Spectrum"})
		assert.DeepEqual(t, forwardTargets(s, l.Spectrum(i), ua.ReferenceTypeIDHasProperty), []string{"Label"})
		label, ok := nm.FindVariable(l.Label(i))
		assert.Assert(t, ok)
		assert.Equal(t, label.Value().Value, addrspace.ChannelName(i))

		intensity, ok := nm.FindVariable(l.Intensity(i))
		assert.Assert(t, ok)
		assert.Equal(t, intensity.ValueRank(), ua.ValueRankOneDimension)
		assert.Equal(t, intensity.AccessLevel()&ua.AccessLevelsCurrentWrite, ua.AccessLevelsCurrentWrite)
		_, ok = nm.FindVariable(l.Timestamp(i))
		assert.Assert(t, ok)
	}

	rv, ok := nm.FindVariable(l.RandomValue())
	assert.Assert(t, ok)
	assert.Equal(t, rv.AccessLevel()&ua.AccessLevelsHistoryRead, ua.AccessLevelsHistoryRead)
	assert.DeepEqual(t, forwardTargets(s, l.Spectrum(1), ua.ReferenceTypeIDHasComponent), []string{"Intensity", "random_value", "Timestamp"})
	assert.DeepEqual(t, forwardTargets(s, l.Spectrum(2), ua.ReferenceTypeIDHasComponent), []string{"Intensity", "Timestamp"})
}

func TestBuild(t *testing.T) {
	s := newService(t)
	l := addrspace.Layout{NS: s.Namespace(), Channels: 4}

	b := addrspace.NewBuilder(s.Server(), l, addrspace.DeviceInfo{SerialNumber: "SIM-0001", Model: "Raman 4CH"}, quietLogger())
	assert.NilError(t, b.Build())
	checkTree(t, s, l)

	serial, ok := s.Server().NamespaceManager().FindVariable(ua.NodeIDString{NamespaceIndex: s.Namespace(), ID: "Device.SerialNumber"})
	assert.Assert(t, ok)
	assert.Equal(t, serial.Value().Value, "SIM-0001")
}

func TestLoadNodeSet(t *testing.T) {
	s := newService(t)
	l := addrspace.Layout{NS: s.Namespace(), Channels: 4}

	err := addrspace.Load(s.Server(), filepath.Join("..", "..", "configs", "spectrometer.NodeSet2.xml"), quietLogger())
	assert.NilError(t, err)
	checkTree(t, s, l)
}

func TestLoadMissingFile(t *testing.T) {
	s := newService(t)
	err := addrspace.Load(s.Server(), filepath.Join(t.TempDir(), "missing.xml"), quietLogger())
	assert.ErrorContains(t, err, "loading nodeset")
}
