package uasrv

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/amine-amaach/simulators/ramanOPCUA/internal/component"
	"github.com/awcullen/opcua/ua"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	certFileName = "server.crt"
	keyFileName  = "server.key"
)

// ensurePKI creates a self-signed server certificate in dir unless one is already there.
func ensurePKI(dir, appName, host string, additions component.Certificate, log *logrus.Logger) (certFile, keyFile string, err error) {
	certFile = filepath.Join(dir, certFileName)
	keyFile = filepath.Join(dir, keyFileName)

	// check if the pki dir already holds a key pair
	if _, err := os.Stat(certFile); err == nil {
		if _, err := os.Stat(keyFile); err == nil {
			return certFile, keyFile, nil
		}
	}

	// make a pki directory, if not exist
	if err := os.MkdirAll(dir, os.ModeDir|0755); err != nil {
		return "", "", errors.Wrap(err, "creating pki dir")
	}

	// create a server certificate
	if err := createNewCertificate(certFile, keyFile, appName, host, additions, log); err != nil {
		return "", "", err
	}
	log.WithFields(logrus.Fields{
		"Certificate": certFile,
		"Key":         keyFile,
	}).Infoln("Self-signed server certificate created 🔑")
	return certFile, keyFile, nil
}

func createNewCertificate(certFile, keyFile, appName, host string, additions component.Certificate, log *logrus.Logger) error {
	// create a key pair.
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return ua.BadCertificateInvalid
	}

	// create a certificate.
	applicationURI, _ := url.Parse(fmt.Sprintf("urn:%s:%s", host, appName))
	serialNumber, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	subjectKeyHash := sha1.New()
	subjectKeyHash.Write(key.PublicKey.N.Bytes())
	subjectKeyId := subjectKeyHash.Sum(nil)

	var dnsNames = make([]string, 0, len(additions.AdditionalHosts)+1)
	dnsNames = append(dnsNames, host)
	dnsNames = append(dnsNames, additions.AdditionalHosts...)

	var ipAddresses = make([]net.IP, 0, len(additions.AdditionalIPs)+1)
	ipAddresses = append(ipAddresses, localIP())
	for _, ipString := range additions.AdditionalIPs {
		ip := net.ParseIP(ipString)
		if ip == nil {
			log.WithField("IP", ipString).Warnln("Invalid IP in certificate additions 🔔")
			continue
		}
		ipAddresses = append(ipAddresses, ip)
	}

	uris := []*url.URL{applicationURI}
	for _, h := range additions.AdditionalHosts {
		u, e := url.Parse(fmt.Sprintf("urn:%s:%s", h, appName))
		if e != nil {
			continue
		}
		uris = append(uris, u)
	}

	template := x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{CommonName: appName},
		SubjectKeyId:          subjectKeyId,
		AuthorityKeyId:        subjectKeyId,
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(1, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment | x509.KeyUsageKeyEncipherment | x509.KeyUsageDataEncipherment | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
		IPAddresses:           ipAddresses,
		URIs:                  uris,
	}

	rawcrt, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return ua.BadCertificateInvalid
	}

	if err := writePEM(certFile, &pem.Block{Type: "CERTIFICATE", Bytes: rawcrt}); err != nil {
		return err
	}
	return writePEM(keyFile, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

func writePEM(path string, block *pem.Block) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	if err := pem.Encode(f, block); err != nil {
		f.Close()
		return errors.Wrapf(err, "encoding %s", path)
	}
	return f.Close()
}

// localIP returns the address of the outbound interface, or the loopback when offline.
func localIP() net.IP {
	conn, err := net.Dial("udp", "8.8.8.8:53")
	if err != nil {
		return net.IPv4(127, 0, 0, 1)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP
}
