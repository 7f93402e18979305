package tls

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jittering/truststore"
)

// Authority is a local CA able to install itself and issue certificates.
type Authority struct {
	Install  func() error
	MakeCert func(hosts []string, dir string) (certFile, keyFile string, err error)
}

// TruststoreAuthority opens, creating if needed, a CA rooted at caDir.
func TruststoreAuthority(caDir string) (*Authority, error) {
	if err := os.Setenv("CAROOT", caDir); err != nil {
		return nil, fmt.Errorf("set CAROOT: %w", err)
	}
	lib, err := truststore.NewLib()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize truststore: %w", err)
	}
	return &Authority{
		Install: lib.Install,
		MakeCert: func(hosts []string, dir string) (string, string, error) {
			cert, err := lib.MakeCert(hosts, dir)
			if err != nil {
				return "", "", err
			}
			return cert.CertFile, cert.KeyFile, nil
		},
	}, nil
}

// Store keeps the CA and the server certificate under one directory and
// reissues the certificate when the machine's addresses change.
type Store struct {
	Logger *log.Logger
	// Hosts lists the names the certificate must cover.
	Hosts func() ([]string, error)
	// OpenAuthority returns the CA. It is only called when a certificate
	// has to be issued.
	OpenAuthority func(caDir string) (*Authority, error)

	tlsDir     string
	caDir      string
	caCertFile string
	certFile   string
	keyFile    string
	hostsFile  string
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string) *Store {
	tlsDir := filepath.Join(dir, "tls")
	caDir := filepath.Join(dir, "ca")
	return &Store{
		Logger:        log.New(os.Stderr, "[tls] ", log.LstdFlags),
		Hosts:         Hosts,
		OpenAuthority: TruststoreAuthority,
		tlsDir:        tlsDir,
		caDir:         caDir,
		caCertFile:    filepath.Join(caDir, "rootCA.pem"),
		certFile:      filepath.Join(tlsDir, "server.crt"),
		keyFile:       filepath.Join(tlsDir, "server.key"),
		hostsFile:     filepath.Join(tlsDir, "hosts.txt"),
	}
}

// CertFile returns the server certificate path.
func (s *Store) CertFile() string { return s.certFile }

// KeyFile returns the server key path.
func (s *Store) KeyFile() string { return s.keyFile }

// CACertFile returns the CA certificate path.
func (s *Store) CACertFile() string { return s.caCertFile }

// Ensure returns a certificate covering the current hosts, issuing one
// when none exists or the hosts changed. Installing the CA may prompt the
// user for a password.
func (s *Store) Ensure() (certFile, keyFile string, err error) {
	if err := os.MkdirAll(s.tlsDir, 0o700); err != nil {
		return "", "", fmt.Errorf("failed to create TLS directory: %w", err)
	}

	hosts, err := s.Hosts()
	if err != nil {
		s.Logger.Printf("Warning: failed to list LAN addresses: %v", err)
	}
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}

	switch {
	case !s.certsExist():
		s.Logger.Println("No certificate yet, issuing one")
	case s.hostsChanged(hosts):
		s.Logger.Println("Network addresses changed, reissuing certificate")
	default:
		return s.certFile, s.keyFile, nil
	}

	if err := s.issue(hosts); err != nil {
		return "", "", err
	}
	return s.certFile, s.keyFile, nil
}

func (s *Store) issue(hosts []string) error {
	if err := os.MkdirAll(s.caDir, 0o700); err != nil {
		return fmt.Errorf("failed to create CA directory: %w", err)
	}
	ca, err := s.OpenAuthority(s.caDir)
	if err != nil {
		return err
	}

	s.Logger.Println("Installing CA in the system trust store (you may be prompted for your password)")
	if err := ca.Install(); err != nil {
		return fmt.Errorf("failed to install CA: %w", err)
	}

	certFile, keyFile, err := ca.MakeCert(hosts, s.tlsDir)
	if err != nil {
		return fmt.Errorf("failed to generate certificate: %w", err)
	}
	if err := moveIfDifferent(certFile, s.certFile); err != nil {
		return err
	}
	if err := moveIfDifferent(keyFile, s.keyFile); err != nil {
		return err
	}

	if err := s.writeHosts(hosts); err != nil {
		s.Logger.Printf("Warning: failed to record certificate hosts: %v", err)
	}
	s.Logger.Printf("Certificate for %v written to %s", hosts, s.certFile)
	if fp, err := s.CAFingerprint(); err == nil {
		s.Logger.Printf("CA fingerprint (SHA256): %s", fp)
	}
	return nil
}

func moveIfDifferent(from, to string) error {
	if from == to {
		return nil
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("move %s: %w", filepath.Base(from), err)
	}
	return nil
}

func (s *Store) certsExist() bool {
	_, certErr := os.Stat(s.certFile)
	_, keyErr := os.Stat(s.keyFile)
	return certErr == nil && keyErr == nil
}

// hostsChanged compares hosts with the recorded set, ignoring order.
func (s *Store) hostsChanged(hosts []string) bool {
	recorded, err := s.readHosts()
	if err != nil {
		return true
	}
	a := slices.Clone(recorded)
	b := slices.Clone(hosts)
	slices.Sort(a)
	slices.Sort(b)
	return !slices.Equal(a, b)
}

func (s *Store) readHosts() ([]string, error) {
	data, err := os.ReadFile(s.hostsFile)
	if err != nil {
		return nil, err
	}
	var hosts []string
	for _, line := range strings.Split(string(data), "\n") {
		if h := strings.TrimSpace(line); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts, nil
}

func (s *Store) writeHosts(hosts []string) error {
	return os.WriteFile(s.hostsFile, []byte(strings.Join(hosts, "\n")+"\n"), 0o600)
}

// CAFingerprint returns the SHA-256 fingerprint of the CA certificate.
func (s *Store) CAFingerprint() (string, error) {
	data, err := os.ReadFile(s.caCertFile)
	if err != nil {
		return "", fmt.Errorf("failed to read CA certificate: %w", err)
	}
	return Fingerprint(data)
}

// Fingerprint formats the SHA-256 of the first PEM certificate in data as
// colon separated hex.
func Fingerprint(data []byte) (string, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return "", errors.New("no PEM block found")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse certificate: %w", err)
	}
	sum := sha256.Sum256(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":"), nil
}
