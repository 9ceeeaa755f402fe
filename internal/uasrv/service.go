// Package uasrv runs the OPC UA server the spectrometer is exposed through.
package uasrv

import (
	"fmt"
	"sync"

	"github.com/amine-amaach/simulators/ramanOPCUA/internal/component"
	"github.com/awcullen/opcua/server"
	"github.com/awcullen/opcua/ua"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const appName = "RamanSpectrometerUaServer"

// Service owns the awcullen server and its lifecycle.
type Service struct {
	server *server.Server
	log    *logrus.Logger
	nsu    string
	nsi    uint16

	mu      sync.Mutex
	started bool
	served  chan error
}

// New creates the server described by cfg: endpoint opc.tcp://host:port, security
// policy None, anonymous and user name identities, and the application namespace.
// A self-signed certificate is created in cfg.PKIDir when none exists.
func New(cfg component.Server, log *logrus.Logger, opts ...server.Option) (*Service, error) {
	certFile, keyFile, err := ensurePKI(cfg.PKIDir, appName, cfg.Host, cfg.Certificate, log)
	if err != nil {
		return nil, errors.Wrap(err, "creating server certificate")
	}

	users, err := hashUsers(cfg.UserIds)
	if err != nil {
		return nil, err
	}

	// create the endpoint url from hostname and port
	endpointURL := fmt.Sprintf("opc.tcp://%s:%d", cfg.Host, cfg.Port)
	options := []server.Option{
		server.WithBuildInfo(
			ua.BuildInfo{
				ProductURI:       "http://github.com/awcullen/opcua",
				ManufacturerName: "awcullen",
				ProductName:      cfg.ServerName,
				SoftwareVersion:  "latest",
			}),
		server.WithAnonymousIdentity(cfg.AllowAnonymous),
		server.WithAuthenticateUserNameIdentityFunc(authenticateUserName(users)),
		server.WithSecurityPolicyNone(true),
		server.WithInsecureSkipVerify(),
		server.WithServerDiagnostics(true),
	}
	options = append(options, opts...)

	srv, err := server.New(
		ua.ApplicationDescription{
			ApplicationURI: fmt.Sprintf("urn:%s:%s", cfg.Host, appName),
			ProductURI:     "http://github.com/awcullen/opcua",
			ApplicationName: ua.LocalizedText{
				Text:   cfg.ServerName,
				Locale: "en",
			},
			ApplicationType:     ua.ApplicationTypeServer,
			GatewayServerURI:    "",
			DiscoveryProfileURI: "",
			DiscoveryURLs:       []string{endpointURL},
		},
		certFile,
		keyFile,
		endpointURL,
		options...,
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating opc ua server")
	}

	s := &Service{
		server: srv,
		log:    log,
		nsu:    cfg.NamespaceURI,
		nsi:    srv.NamespaceManager().Add(cfg.NamespaceURI),
	}
	log.WithFields(logrus.Fields{
		"Endpoint":  endpointURL,
		"Namespace": cfg.NamespaceURI,
		"Index":     s.nsi,
	}).Infoln("OPC UA server created ✅")
	return s, nil
}

// Server returns the awcullen server.
func (s *Service) Server() *server.Server { return s.server }

// Namespace returns the index of the application namespace.
func (s *Service) Namespace() uint16 { return s.nsi }

// NamespaceURI returns the application namespace.
func (s *Service) NamespaceURI() string { return s.nsu }

// EndpointURL returns the opc.tcp url clients connect to.
func (s *Service) EndpointURL() string { return s.server.EndpointURL() }

// Start serves clients in the background until Close.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.served = make(chan error, 1)

	go func() {
		s.log.WithFields(logrus.Fields{
			"Server":   s.server.LocalDescription().ApplicationName.Text,
			"Endpoint": s.server.EndpointURL(),
		}).Infoln("Starting server 🚀")
		err := s.server.ListenAndServe()
		if err != ua.BadServerHalted {
			s.log.WithField("Err", err).Errorln("Error starting server ⛔")
			s.served <- errors.Wrap(err, "serving opc ua")
			return
		}
		s.served <- nil
	}()
}

// Close stops the server. Connected clients are given a few seconds to leave.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	s.log.Infoln("Stopping server...")
	if err := s.server.Close(); err != nil {
		s.log.WithField("Err", err).Warnln("Server was not running 🔔")
	}
	return <-s.served
}

// Historize records the value changes of a variable in the server historian.
func (s *Service) Historize(id ua.NodeID) error {
	if s.server.Historian() == nil {
		return errors.Errorf("historize %v: no historian configured", id)
	}
	n, ok := s.server.NamespaceManager().FindVariable(id)
	if !ok {
		return errors.Wrapf(ua.BadNodeIDUnknown, "historize %v", id)
	}
	n.SetHistorizing(true)
	s.log.WithField("Node Id", id).Infoln("Node historized 📜")
	return nil
}

func hashUsers(ids []component.UserId) ([]ua.UserNameIdentity, error) {
	users := make([]ua.UserNameIdentity, 0, len(ids))
	for _, id := range ids {
		hash, err := bcrypt.GenerateFromPassword([]byte(id.Password), 8)
		if err != nil {
			return nil, errors.Wrapf(err, "hashing password of %s", id.Username)
		}
		users = append(users, ua.UserNameIdentity{UserName: id.Username, Password: string(hash)})
	}
	return users, nil
}

func authenticateUserName(users []ua.UserNameIdentity) server.AuthenticateUserNameIdentityFunc {
	return func(userIdentity ua.UserNameIdentity, applicationURI string, endpointURL string) error {
		for _, user := range users {
			if user.UserName == userIdentity.UserName {
				if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(userIdentity.Password)); err == nil {
					return nil
				}
			}
		}
		return ua.BadUserAccessDenied
	}
}
