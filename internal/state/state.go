// Package state owns the persisted gateway document: the control endpoint
// plus every configured IRC network.
//
// The on-disk format is a single JSON file. Every mutation rewrites and
// flushes the whole document; there is no partial write path, so a crash can
// lose the most recent mutation but never leaves a corrupt file. Mutating
// methods return the newly persisted value so callers never need a
// read-modify-write cycle of their own.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrUnknownNetwork is returned by mutations that target a network name the
// document does not contain.
var ErrUnknownNetwork = errors.New("unknown network")

// Control describes the local control listener and its shared secret.
type Control struct {
	Secret string `json:"secret"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
}

// Network is the persisted configuration for one IRC network.
type Network struct {
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Nick     string   `json:"nick"`
	User     string   `json:"user"`
	Realname string   `json:"realname"`
	Channels []string `json:"channels"`
}

// Addr returns the dialable host:port for the network.
func (n Network) Addr() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// HasChannel reports whether the channel set contains name.
func (n Network) HasChannel(name string) bool {
	for _, ch := range n.Channels {
		if ch == name {
			return true
		}
	}
	return false
}

func (n Network) clone() Network {
	cp := n
	if n.Channels != nil {
		// Preserve empty-but-non-nil so the document always carries
		// "channels": [] rather than null.
		cp.Channels = make([]string, len(n.Channels))
		copy(cp.Channels, n.Channels)
	}
	return cp
}

// Document is the full persisted state file.
type Document struct {
	Control  Control            `json:"control"`
	Networks map[string]Network `json:"networks"`
}

// Store provides mutable access to a Document backed by a JSON file. All
// methods are safe for concurrent use; mutations hold the store lock across
// the in-memory update and the flush so no interleaving can observe one
// without the other.
type Store struct {
	mu   sync.Mutex
	path string
	doc  Document
}

// Open reads the document at path. A missing file surfaces as fs.ErrNotExist
// so callers can distinguish first-run bootstrap from corruption.
func Open(path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	if doc.Networks == nil {
		doc.Networks = map[string]Network{}
	}
	return &Store{path: path, doc: doc}, nil
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// Control returns the control endpoint configuration.
func (s *Store) Control() Control {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Control
}

// Networks returns a deep copy of the persisted network mapping.
func (s *Store) Networks() map[string]Network {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Network, len(s.doc.Networks))
	for name, net := range s.doc.Networks {
		out[name] = net.clone()
	}
	return out
}

// Network returns the persisted configuration for name.
func (s *Store) Network(name string) (Network, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	net, ok := s.doc.Networks[name]
	if !ok {
		return Network{}, false
	}
	return net.clone(), true
}

// SetNetwork persists configuration for name, replacing any existing entry.
func (s *Store) SetNetwork(name string, net Network) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if net.Channels == nil {
		net.Channels = []string{}
	}
	s.doc.Networks[name] = net.clone()
	return s.flushLocked()
}

// DeleteNetwork removes the persisted entry for name. Removing an absent
// entry is a no-op.
func (s *Store) DeleteNetwork(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.doc.Networks[name]; !ok {
		return nil
	}
	delete(s.doc.Networks, name)
	return s.flushLocked()
}

// AddChannels unions channels into the network's channel set and returns the
// newly persisted value.
func (s *Store) AddChannels(name string, channels []string) (Network, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	net, ok := s.doc.Networks[name]
	if !ok {
		return Network{}, fmt.Errorf("%w: %s", ErrUnknownNetwork, name)
	}
	set := channelSet(net.Channels)
	for _, ch := range channels {
		if ch != "" {
			set[ch] = struct{}{}
		}
	}
	net.Channels = sortedChannels(set)
	s.doc.Networks[name] = net
	return net.clone(), s.flushLocked()
}

// RemoveChannels subtracts channels from the network's channel set and
// returns the newly persisted value.
func (s *Store) RemoveChannels(name string, channels []string) (Network, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	net, ok := s.doc.Networks[name]
	if !ok {
		return Network{}, fmt.Errorf("%w: %s", ErrUnknownNetwork, name)
	}
	set := channelSet(net.Channels)
	for _, ch := range channels {
		delete(set, ch)
	}
	net.Channels = sortedChannels(set)
	s.doc.Networks[name] = net
	return net.clone(), s.flushLocked()
}

// SetNick persists a new nickname for the network and returns the newly
// persisted value.
func (s *Store) SetNick(name, nick string) (Network, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	net, ok := s.doc.Networks[name]
	if !ok {
		return Network{}, fmt.Errorf("%w: %s", ErrUnknownNetwork, name)
	}
	net.Nick = nick
	s.doc.Networks[name] = net
	return net.clone(), s.flushLocked()
}

// flushLocked rewrites the entire document. The write lands in a temporary
// file that is renamed over the target, so readers never observe a torn file.
func (s *Store) flushLocked() error {
	raw, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	raw = append(raw, '\n')

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func channelSet(channels []string) map[string]struct{} {
	set := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		set[ch] = struct{}{}
	}
	return set
}

func sortedChannels(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for ch := range set {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
