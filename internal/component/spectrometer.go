package component

// Spectrometer describes the simulated device and how it is mirrored.
type Spectrometer struct {
	// Number of channels exposed under the Device object.
	Channels int `mapstructure:"channels"`
	// Number of points in each Intensity spectrum.
	Points int `mapstructure:"points"`
	// Delay between two produced spectra, e.g. "1s".
	ProduceInterval string `mapstructure:"produce_interval"`
	// Sampling interval of the mirror subscriptions, e.g. "500ms".
	SamplingInterval string `mapstructure:"sampling_interval"`
	// Optional UANodeSet XML file imported instead of the built-in tree.
	NodesetFile string `mapstructure:"nodeset_file"`
	// "local" mirrors through the in-process server, "session" through a client session.
	Backend string `mapstructure:"backend"`
	// Random walk parameters of the producer.
	Mean              float64 `mapstructure:"mean"`
	StandardDeviation float64 `mapstructure:"standard_deviation"`
	// Size of the producer worker pool.
	Workers int `mapstructure:"workers"`
}

// Historian holds the retention window of historized nodes.
type Historian struct {
	Enabled bool `mapstructure:"enabled"`
	// "memory" or "sqlite".
	Store string `mapstructure:"store"`
	Path  string `mapstructure:"path"`
	// Max number of values kept per node, 0 means unbounded.
	Count int `mapstructure:"count"`
	// Max age of values kept per node, e.g. "1h". Empty means unbounded.
	Period string `mapstructure:"period"`
}

type Metrics struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}
