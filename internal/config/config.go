package config

import (
	"bytes"
	"strings"

	"github.com/amine-amaach/simulators/ramanOPCUA/internal/component"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Cfg struct {
	ServerConfig       component.Server       `mapstructure:"server"`
	SpectrometerConfig component.Spectrometer `mapstructure:"spectrometer"`
	HistorianConfig    component.Historian    `mapstructure:"historian"`
	MQTTConfig         component.MQTTConfig   `mapstructure:"mqtt_config"`
	MetricsConfig      component.Metrics      `mapstructure:"metrics"`
	LoggerConfig       component.Logger       `mapstructure:"logger"`
}

const envPrefix = "RAMAN"

var defaultConfig = []byte(`
{
	"server": {
		"host": "localhost",
		"port": 49320,
		"server_name": "Raman Spectrometer Simulation Server",
		"namespace_uri": "http://mynamespace",
		"pki_dir": "./uaServerCerts/pki",
		"allow_anonymous": true,
		"user_ids": [
			{ "username": "root", "password": "secret" }
		],
		"certificate": { "hosts": [], "ips": [] }
	},

	"spectrometer": {
		"channels": 4,
		"points": 3325,
		"produce_interval": "1s",
		"sampling_interval": "500ms",
		"nodeset_file": "",
		"backend": "local",
		"mean": 0.5,
		"standard_deviation": 0.25,
		"workers": 4
	},

	"historian": {
		"enabled": true,
		"store": "memory",
		"path": "./history.db",
		"count": 100,
		"period": ""
	},

	"mqtt_config": {
		"enabled": false,
		"url": "tcp://localhost:1883",
		"qos": 1,
		"client_id": "",
		"user": "",
		"password": "",
		"connect_timeout": "10s",
		"keep_alive": 10,
		"connect_retry": 5,
		"topic_prefix": "raman",
		"retain": false
	},

	"metrics": {
		"enabled": true,
		"address": ":8080"
	},

	"logger": {
		"level": "INFO",
		"format": "TEXT",
		"disable_timestamp": false
	}
}
`)

// GetConfigs reads the configs from ./configs/, ./internal/config/ or /configs/ and
// falls back to the built-in defaults when no file is found. Environment variables
// prefixed with RAMAN_ override both, e.g. RAMAN_SERVER_PORT=4840.
func GetConfigs() Cfg {
	logger := logrus.New()
	v := viper.New()
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	v.AddConfigPath("./configs/")
	v.AddConfigPath("./internal/config/")
	v.AddConfigPath("/configs/")

	cfg, err := Load(v, logger)
	if err != nil {
		logger.Errorln("Unable to load configs ⛔")
		panic(err)
	}
	return cfg
}

// Load merges the defaults, the config file found by v (if any) and the environment.
func Load(v *viper.Viper, logger *logrus.Logger) (Cfg, error) {
	var cfg Cfg

	if err := v.MergeConfig(bytes.NewReader(defaultConfig)); err != nil {
		return cfg, errors.Wrap(err, "parsing default configs")
	}

	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.Warnln("Config file not found! using default configs 🔔")
		} else {
			logger.Errorln("Config file was found but another error was produced ⛔")
			return cfg, errors.Wrap(err, "reading config file")
		}
	} else {
		logger.WithField("File", v.ConfigFileUsed()).Infoln("Config file found")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&cfg); err != nil {
		logger.Errorln("Unable to unmarshal configs ⛔")
		return cfg, errors.Wrap(err, "decoding configs")
	}
	logger.Infoln("Configs parsed successfully ✅")
	return cfg, nil
}
