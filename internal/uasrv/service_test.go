package uasrv

import (
	"crypto/x509"
	"encoding/pem"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/amine-amaach/simulators/ramanOPCUA/internal/component"
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

func testConfig(t *testing.T) component.Server {
	return component.Server{
		Host:           "localhost",
		Port:           49320,
		ServerName:     "Raman Spectrometer Simulation Server",
		NamespaceURI:   "http://mynamespace",
		PKIDir:         filepath.Join(t.TempDir(), "pki"),
		AllowAnonymous: true,
		UserIds:        []component.UserId{{Username: "root", Password: "secret"}},
		Certificate: component.Certificate{
			AdditionalHosts: []string{"spectro.local"},
			AdditionalIPs:   []string{"10.0.0.7", "not-an-ip"},
		},
	}
}

func TestEnsurePKICreatesSelfSignedCertificate(t *testing.T) {
	cfg := testConfig(t)

	certFile, keyFile, err := ensurePKI(cfg.PKIDir, appName, cfg.Host, cfg.Certificate, quietLogger())
	assert.NilError(t, err)
	_, err = os.Stat(keyFile)
	assert.NilError(t, err)

	raw, err := os.ReadFile(certFile)
	assert.NilError(t, err)
	block, _ := pem.Decode(raw)
	assert.Assert(t, block != nil)
	cert, err := x509.ParseCertificate(block.Bytes)
	assert.NilError(t, err)

	assert.Equal(t, cert.Subject.CommonName, appName)
	assert.DeepEqual(t, cert.DNSNames, []string{"localhost", "spectro.local"})
	assert.Equal(t, len(cert.IPAddresses), 2)
	assert.Equal(t, cert.IPAddresses[1].String(), "10.0.0.7")
	assert.Equal(t, cert.URIs[0].String(), "urn:localhost:"+appName)
}

func TestEnsurePKIKeepsExistingCertificate(t *testing.T) {
	cfg := testConfig(t)
	certFile, _, err := ensurePKI(cfg.PKIDir, appName, cfg.Host, cfg.Certificate, quietLogger())
	assert.NilError(t, err)
	before, err := os.ReadFile(certFile)
	assert.NilError(t, err)

	_, _, err = ensurePKI(cfg.PKIDir, appName, "other-host", cfg.Certificate, quietLogger())
	assert.NilError(t, err)
	after, err := os.ReadFile(certFile)
	assert.NilError(t, err)
	assert.DeepEqual(t, after, before)
}

func TestAuthenticateUserName(t *testing.T) {
	users, err := hashUsers([]component.UserId{
		{Username: "root", Password: "secret"},
		{Username: "operator", Password: "raman"},
	})
	assert.NilError(t, err)
	assert.Assert(t, users[0].Password != "secret")

	auth := authenticateUserName(users)
	assert.NilError(t, auth(ua.UserNameIdentity{UserName: "operator", Password: "raman"}, "", ""))
	assert.Equal(t, auth(ua.UserNameIdentity{UserName: "root", Password: "raman"}, "", ""), error(ua.BadUserAccessDenied))
	assert.Equal(t, auth(ua.UserNameIdentity{UserName: "guest", Password: ""}, "", ""), error(ua.BadUserAccessDenied))
}

func TestNewRegistersNamespace(t *testing.T) {
	s, err := New(testConfig(t), quietLogger())
	assert.NilError(t, err)

	uris := s.Server().NamespaceUris()
	assert.Assert(t, int(s.Namespace()) < len(uris))
	assert.Equal(t, uris[s.Namespace()], "http://mynamespace")
	assert.Equal(t, s.NamespaceURI(), "http://mynamespace")
	assert.Equal(t, s.EndpointURL(), "opc.tcp://localhost:49320")
	assert.Equal(t, s.Server().LocalDescription().ApplicationName.Text, "Raman Spectrometer Simulation Server")

	// never started
	assert.NilError(t, s.Close())
}

func TestHistorizeNeedsHistorian(t *testing.T) {
	s, err := New(testConfig(t), quietLogger())
	assert.NilError(t, err)

	err = s.Historize(ua.NodeIDString{NamespaceIndex: s.Namespace(), ID: "Device"})
	assert.Assert(t, is.ErrorContains(err, "no historian configured"))
}
