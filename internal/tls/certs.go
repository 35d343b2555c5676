// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

// Package tls builds the TLS configuration of the API listener, from PEM
// files or from a throwaway self-signed certificate for local development.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	cryptotls "crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"time"

	"github.com/samber/oops"
)

// SelfSigned is a generated certificate and its key.
type SelfSigned struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
}

// GenerateSelfSigned creates a P-256 server certificate for hosts, valid from
// now for validFor. Hosts that parse as IP addresses become IP SANs, the rest
// DNS SANs.
func GenerateSelfSigned(hosts []string, validFor time.Duration) (*SelfSigned, error) {
	if len(hosts) == 0 {
		return nil, oops.Code("TLS_CONFIG_INVALID").Errorf("at least one host is required")
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, oops.Code("TLS_GENERATE_FAILED").With("operation", "generate key").Wrap(err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, oops.Code("TLS_GENERATE_FAILED").With("operation", "generate serial").Wrap(err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"LAN Connect"},
			CommonName:   hosts[0],
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, oops.Code("TLS_GENERATE_FAILED").With("operation", "create certificate").Wrap(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, oops.Code("TLS_GENERATE_FAILED").With("operation", "parse certificate").Wrap(err)
	}

	return &SelfSigned{Certificate: cert, PrivateKey: key}, nil
}

// ServerConfig loads a PEM certificate chain and key into a server config.
func ServerConfig(certFile, keyFile string) (*cryptotls.Config, error) {
	pair, err := cryptotls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, oops.Code("TLS_LOAD_FAILED").
			With("cert_file", certFile).
			With("key_file", keyFile).
			Wrap(err)
	}
	return serverConfig(pair), nil
}

// SelfSignedConfig returns a server config presenting a fresh self-signed
// certificate for hosts. Clients must skip verification or pin it.
func SelfSignedConfig(hosts []string) (*cryptotls.Config, error) {
	ss, err := GenerateSelfSigned(hosts, 365*24*time.Hour)
	if err != nil {
		return nil, err
	}
	return serverConfig(cryptotls.Certificate{
		Certificate: [][]byte{ss.Certificate.Raw},
		PrivateKey:  ss.PrivateKey,
		Leaf:        ss.Certificate,
	}), nil
}

func serverConfig(pair cryptotls.Certificate) *cryptotls.Config {
	return &cryptotls.Config{
		Certificates: []cryptotls.Certificate{pair},
		MinVersion:   cryptotls.VersionTLS12,
	}
}
