package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/hyperledger/fabric-gateway/pkg/identity"
)

const (
	// identityExtension is appended to labels to form file names.
	identityExtension = ".id"
	// identityType is the only credential type the bridge can sign with.
	identityType = "X.509"
	// identityVersion is the wallet entry schema version.
	identityVersion = 1

	dirPermissions  = 0o700
	filePermissions = 0o600
)

var (
	// ErrNotFound is returned when the wallet has no entry for a label.
	ErrNotFound = errors.New("identity not found")
	// ErrInvalidIdentity is returned for entries that cannot be used to sign.
	ErrInvalidIdentity = errors.New("invalid identity")
	// errLabelRequired is returned for an empty or path-like label.
	errLabelRequired = errors.New("identity label must be a plain name")
)

// Identity is an enrolled application identity.
type Identity struct {
	// MSPID is the membership service provider of the organization.
	MSPID string
	// Certificate is the PEM encoded enrollment certificate.
	Certificate []byte
	// PrivateKey is the PEM encoded signing key.
	PrivateKey []byte
}

// Validate checks that the certificate and key parse.
func (i *Identity) Validate() error {
	if i == nil || i.MSPID == "" {
		return fmt.Errorf("%w: msp id is empty", ErrInvalidIdentity)
	}

	if _, err := identity.CertificateFromPEM(i.Certificate); err != nil {
		return fmt.Errorf("%w: certificate: %w", ErrInvalidIdentity, err)
	}

	if _, err := identity.PrivateKeyFromPEM(i.PrivateKey); err != nil {
		return fmt.Errorf("%w: private key: %w", ErrInvalidIdentity, err)
	}

	return nil
}

// entry is the on-disk JSON layout.
type entry struct {
	Credentials struct {
		Certificate string `json:"certificate"`
		PrivateKey  string `json:"privateKey"`
	} `json:"credentials"`
	MSPID   string `json:"mspId"`
	Type    string `json:"type"`
	Version int    `json:"version"`
}

// FileWallet keeps one JSON file per identity in a directory.
type FileWallet struct {
	// dir is the wallet directory.
	dir string
	// mu serialises file access.
	mu sync.Mutex
}

// NewFileWallet creates a wallet rooted at dir. The directory is created on first Put.
func NewFileWallet(dir string) *FileWallet {
	return &FileWallet{
		dir: filepath.Clean(dir),
	}
}

// Get reads the identity stored under label.
func (w *FileWallet) Get(_ context.Context, label string) (*Identity, error) {
	path, err := w.path(label)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, label)
		}

		return nil, fmt.Errorf("read identity %s: %w", label, err)
	}

	var e entry
	if err = json.Unmarshal(contents, &e); err != nil {
		return nil, fmt.Errorf("decode identity %s: %w", label, err)
	}

	if e.Type != identityType {
		return nil, fmt.Errorf("%w: %s has unsupported type %q", ErrInvalidIdentity, label, e.Type)
	}

	return &Identity{
		MSPID:       e.MSPID,
		Certificate: []byte(e.Credentials.Certificate),
		PrivateKey:  []byte(e.Credentials.PrivateKey),
	}, nil
}

// Put validates and stores the identity under label, replacing any previous entry.
func (w *FileWallet) Put(_ context.Context, label string, id *Identity) error {
	path, err := w.path(label)
	if err != nil {
		return err
	}

	if err = id.Validate(); err != nil {
		return err
	}

	var e entry

	e.Credentials.Certificate = string(id.Certificate)
	e.Credentials.PrivateKey = string(id.PrivateKey)
	e.MSPID = id.MSPID
	e.Type = identityType
	e.Version = identityVersion

	data, err := json.Marshal(&e)
	if err != nil {
		return fmt.Errorf("encode identity %s: %w", label, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err = os.MkdirAll(w.dir, dirPermissions); err != nil {
		return fmt.Errorf("create wallet directory: %w", err)
	}

	if err = os.WriteFile(path, data, filePermissions); err != nil {
		return fmt.Errorf("write identity %s: %w", label, err)
	}

	return nil
}

// List returns the sorted labels stored in the wallet.
// A missing directory is an empty wallet.
func (w *FileWallet) List(_ context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("read wallet directory: %w", err)
	}

	labels := make([]string, 0, len(entries))

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, identityExtension) {
			continue
		}

		labels = append(labels, strings.TrimSuffix(name, identityExtension))
	}

	slices.Sort(labels)

	return labels, nil
}

// path maps a label to its file, rejecting labels that would escape the directory.
func (w *FileWallet) path(label string) (string, error) {
	if label == "" || label != filepath.Base(label) || label == "." || label == ".." {
		return "", fmt.Errorf("%w: %q", errLabelRequired, label)
	}

	return filepath.Join(w.dir, label+identityExtension), nil
}
