package topology

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	schemeTLS       = "grpcs"
	schemePlaintext = "grpc"
	localhost       = "localhost"
)

var (
	// ErrOrganizationNotFound is returned when the profile lacks the organization.
	ErrOrganizationNotFound = errors.New("organization not found in connection profile")
	// ErrPeerNotFound is returned when no usable peer can be selected.
	ErrPeerNotFound = errors.New("peer not found in connection profile")
	// errStaticPeerRequired is returned when discovery is disabled and no peer is named.
	errStaticPeerRequired = errors.New("a static peer must be named when discovery is disabled")
)

// Profile is the subset of a common connection profile the bridge needs.
type Profile struct {
	// Name of the network.
	Name string `yaml:"name"`
	// Client carries the default organization.
	Client struct {
		Organization string `yaml:"organization"`
	} `yaml:"client"`
	// Organizations maps organization names to their members.
	Organizations map[string]Organization `yaml:"organizations"`
	// Peers maps peer names to their connection details.
	Peers map[string]Peer `yaml:"peers"`

	// dir resolves relative certificate paths.
	dir string
}

// Organization lists the peers of one organization.
type Organization struct {
	MSPID string   `yaml:"mspid"`
	Peers []string `yaml:"peers"`
}

// Peer holds the connection details of one peer.
type Peer struct {
	URL        string `yaml:"url"`
	TLSCACerts struct {
		PEM  string `yaml:"pem"`
		Path string `yaml:"path"`
	} `yaml:"tlsCACerts"`
	GRPCOptions map[string]any `yaml:"grpcOptions"`
}

// Discovery mirrors the gateway connection discovery options.
type Discovery struct {
	// Enabled allows picking the gateway peer from the organization's list.
	Enabled bool
	// AsLocalhost dials localhost while keeping the TLS server name.
	AsLocalhost bool
}

// Endpoint is a resolved gateway peer.
type Endpoint struct {
	// Peer is the peer name from the profile.
	Peer string
	// MSPID is the organization's membership service provider.
	MSPID string
	// Address is the host:port to dial.
	Address string
	// ServerName is the expected TLS server name.
	ServerName string
	// TLSRootCert is the PEM encoded CA; nil means plaintext.
	TLSRootCert []byte
}

// Load reads and parses a connection profile.
func Load(path string) (*Profile, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read connection profile: %w", err)
	}

	profile, err := Parse(contents)
	if err != nil {
		return nil, err
	}

	profile.dir = filepath.Dir(path)

	return profile, nil
}

// Parse decodes a connection profile from YAML or JSON.
func Parse(contents []byte) (*Profile, error) {
	var profile Profile
	if err := yaml.Unmarshal(contents, &profile); err != nil {
		return nil, fmt.Errorf("decode connection profile: %w", err)
	}

	return &profile, nil
}

// Endpoint selects the gateway peer of org. An explicitly named peer always
// wins; otherwise discovery must be enabled and the organization's first peer
// is used, the gateway peer discovering the rest of the network itself.
// An empty org falls back to the profile's client organization.
func (p *Profile) Endpoint(org, peer string, discovery Discovery) (*Endpoint, error) {
	if org == "" {
		org = p.Client.Organization
	}

	organization, ok := p.Organizations[org]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrOrganizationNotFound, org)
	}

	if peer == "" {
		if !discovery.Enabled {
			return nil, errStaticPeerRequired
		}

		if len(organization.Peers) == 0 {
			return nil, fmt.Errorf("%w: organization %q lists no peers", ErrPeerNotFound, org)
		}

		peer = organization.Peers[0]
	}

	details, ok := p.Peers[peer]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPeerNotFound, peer)
	}

	endpoint, err := p.resolve(peer, details, discovery.AsLocalhost)
	if err != nil {
		return nil, err
	}

	endpoint.MSPID = organization.MSPID

	return endpoint, nil
}

// resolve turns peer details into a dialable endpoint.
func (p *Profile) resolve(name string, details Peer, asLocalhost bool) (*Endpoint, error) {
	scheme, address, found := strings.Cut(details.URL, "://")
	if !found {
		scheme, address = schemeTLS, details.URL
	}

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("peer %q url %q: %w", name, details.URL, err)
	}

	endpoint := &Endpoint{
		Peer:       name,
		Address:    address,
		ServerName: host,
	}

	if override := grpcOption(details.GRPCOptions, "ssl-target-name-override", "hostnameOverride"); override != "" {
		endpoint.ServerName = override
	}

	if asLocalhost {
		endpoint.Address = net.JoinHostPort(localhost, port)
	}

	switch scheme {
	case schemePlaintext:
		return endpoint, nil
	case schemeTLS:
	default:
		return nil, fmt.Errorf("peer %q: unsupported url scheme %q", name, scheme)
	}

	switch {
	case details.TLSCACerts.PEM != "":
		endpoint.TLSRootCert = []byte(details.TLSCACerts.PEM)
	case details.TLSCACerts.Path != "":
		path := details.TLSCACerts.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(p.dir, path)
		}

		pem, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("peer %q tls ca: %w", name, err)
		}

		endpoint.TLSRootCert = pem
	default:
		return nil, fmt.Errorf("peer %q: tls url without tlsCACerts", name)
	}

	return endpoint, nil
}

// grpcOption returns the first non-empty string option among keys.
func grpcOption(options map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := options[key].(string); ok && value != "" {
			return value
		}
	}

	return ""
}
