package mirrortest

import (
	"fmt"

	"github.com/awcullen/opcua/ua"
)

// NewSpectrometer returns the device tree served by the application:
//
//	Device (SerialNumber, Model)
//	  Channel1..N
//	    Spectrum (Label, Intensity, Timestamp; random_value on Channel1)
func NewSpectrometer(ns uint16, channels int) *Server {
	s := New(ns)
	dev := s.AddObject(nil, "Device", "Device", nil)
	s.AddProperty(dev, "Device.SerialNumber", "SerialNumber", "SIM-0001")
	s.AddProperty(dev, "Device.Model", "Model", "Raman 4CH")
	for i := 1; i <= channels; i++ {
		name := fmt.Sprintf("Channel%d", i)
		chID := "Device." + name
		ch := s.AddObject(dev, chID, name, ua.ObjectTypeIDFolderType)
		spec := s.AddObject(ch, chID+".Spectrum", "Spectrum", ua.ObjectTypeIDFolderType)
		s.AddProperty(spec, chID+".Spectrum.Label", "Label", name)
		s.AddVariable(spec, chID+".Spectrum.Intensity", "Intensity", 0.0)
		if i == 1 {
			s.AddVariable(spec, chID+".Spectrum.random_value", "random_value", 0.0)
		}
		s.AddVariable(spec, chID+".Spectrum.Timestamp", "Timestamp", "")
	}
	return s
}
