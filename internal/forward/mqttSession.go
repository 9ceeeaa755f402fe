package forward

import (
	"context"
	"net/url"
	"time"

	"github.com/amine-amaach/simulators/ramanOPCUA/internal/component"
	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	nanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const clientIDPrefix = "RamanOPCUA::"

// Connect starts an MQTT connection manager for cfg. It returns once the connection
// process is started; Forwarder.Run waits for the connection before publishing.
func Connect(ctx context.Context, cfg component.MQTTConfig, log *logrus.Logger) (*autopaho.ConnectionManager, error) {
	log.Debugln("Setting up an MQTT client options 🔔")

	connectTimeout, err := time.ParseDuration(cfg.ConnectTimeout)
	if err != nil {
		log.WithField("Err", err).Errorln("Unable to parse connect timeout duration string ⛔")
		return nil, errors.Wrap(err, "parsing connect timeout")
	}

	srvURL, err := url.Parse(cfg.URL)
	if err != nil || srvURL.Host == "" {
		log.WithField("URL", cfg.URL).Errorln("Unable to parse server URL ⛔")
		return nil, errors.Errorf("invalid broker url %q", cfg.URL)
	}

	cliID, err := clientID(cfg)
	if err != nil {
		log.Errorln("Unable to auto-generate client id ⛔")
		return nil, err
	}

	cliCfg := autopaho.ClientConfig{
		BrokerUrls:        []*url.URL{srvURL},
		KeepAlive:         cfg.KeepAlive,
		ConnectRetryDelay: time.Duration(cfg.ConnectRetry) * time.Second,
		ConnectTimeout:    connectTimeout,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, c *paho.Connack) {
			log.WithField("ClientId", cliID).Infoln("MQTT connection up ✅")
		},
		OnConnectError: func(err error) {
			log.WithField("Err", err).Errorln("Error whilst attempting connection ⛔")
		},
		Debug: log,
		ClientConfig: paho.ClientConfig{
			ClientID: cliID,
			OnClientError: func(err error) {
				log.WithField("Err", err).Errorln("MQTT client error ⛔")
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				if d.Properties != nil {
					log.WithField("Reason", d.Properties.ReasonString).Errorln("Server requested disconnect ⛔")
				} else {
					log.WithField("ReasonCode", d.ReasonCode).Errorln("Server requested disconnect ⛔")
				}
			},
		},
	}
	if cfg.User != "" {
		cliCfg.SetUsernamePassword(cfg.User, []byte(cfg.Password))
	}

	log.WithField("Brokers", cliCfg.BrokerUrls).Infoln("Trying to establish an MQTT Session 🔔")
	cm, err := autopaho.NewConnection(ctx, cliCfg)
	if err != nil {
		return nil, errors.Wrap(err, "starting mqtt connection")
	}
	return cm, nil
}

func clientID(cfg component.MQTTConfig) (string, error) {
	if cfg.ClientID != "" {
		return cfg.ClientID, nil
	}
	id, err := nanoid.New()
	if err != nil {
		return "", errors.Wrap(err, "generating client id")
	}
	return clientIDPrefix + id, nil
}
