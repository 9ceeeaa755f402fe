package component

type MQTTConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	URL            string `mapstructure:"url"`
	QoS            uint8  `mapstructure:"qos"`
	ClientID       string `mapstructure:"client_id"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	ConnectTimeout string `mapstructure:"connect_timeout"`
	KeepAlive      uint16 `mapstructure:"keep_alive"`
	// How long to wait between connection attempts in seconds
	ConnectRetry int64  `mapstructure:"connect_retry"`
	TopicPrefix  string `mapstructure:"topic_prefix"`
	Retain       bool   `mapstructure:"retain"`
}

// Returns default configs
func NewMQTTConfig() *MQTTConfig {
	return &MQTTConfig{
		Enabled:        false,
		URL:            "tcp://localhost:1883",
		QoS:            1,
		ConnectTimeout: "10s",
		KeepAlive:      10,
		ConnectRetry:   5,
		TopicPrefix:    "raman",
	}
}
