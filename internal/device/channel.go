package device

import (
	"context"

	"github.com/amine-amaach/simulators/ramanOPCUA/internal/mirror"
	"github.com/awcullen/opcua/ua"
)

const spectrumName = "Spectrum"

// Channel mirrors one acquisition channel and its spectrum.
type Channel struct {
	*mirror.Object
	spectrum *Spectrum
}

func bindChannel(ctx context.Context, backend mirror.Backend, id ua.NodeID, opts ...mirror.Option) (*Channel, error) {
	obj, err := mirror.Bind(ctx, backend, id, opts...)
	if err != nil {
		return nil, err
	}
	c := &Channel{Object: obj}

	node, ok := obj.Node(spectrumName)
	if !ok || node.Kind != mirror.KindObject {
		release(ctx, obj, obj.Logger())
		return nil, &mirror.BindError{NodeID: id, Reason: "no Spectrum object"}
	}
	spec, err := bindSpectrum(ctx, backend, node.NodeID, withParent(opts, obj)...)
	if err != nil {
		release(ctx, obj, obj.Logger())
		return nil, err
	}
	c.spectrum = spec
	return c, nil
}

func (c *Channel) Spectrum() *Spectrum { return c.spectrum }

// Close releases the spectrum, then the channel.
func (c *Channel) Close(ctx context.Context) error {
	err := c.spectrum.Close(ctx)
	if cerr := c.Object.Close(ctx); err == nil {
		err = cerr
	}
	return err
}
