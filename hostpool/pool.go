package hostpool

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

// Role selects which host list a request uses.
type Role int

const (
	// Read hosts serve queries and object reads.
	Read Role = iota
	// Write hosts serve indexing and administration.
	Write
)

func (r Role) String() string {
	switch r {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

var (
	// ErrNoHosts is returned when a host list would become empty.
	ErrNoHosts = errors.New("hostpool: host list is empty")
	// ErrBlankHost is returned when a host list contains an empty entry.
	ErrBlankHost = errors.New("hostpool: host name is blank")
)

// Pool holds the read and write host lists of one application. Updates
// replace a list wholesale; a dispatch that already fetched its list keeps
// using the old one.
type Pool struct {
	mu    sync.RWMutex
	read  []string
	write []string
}

// New builds a pool from explicit lists. Both lists must be non-empty.
func New(read, write []string) (*Pool, error) {
	p := &Pool{}
	if err := p.SetReadHosts(read...); err != nil {
		return nil, err
	}
	if err := p.SetWriteHosts(write...); err != nil {
		return nil, err
	}
	return p, nil
}

// SetReadHosts replaces the read list.
func (p *Pool) SetReadHosts(hosts ...string) error {
	list, err := normalize(hosts)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.read = list
	p.mu.Unlock()
	return nil
}

// SetWriteHosts replaces the write list.
func (p *Pool) SetWriteHosts(hosts ...string) error {
	list, err := normalize(hosts)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.write = list
	p.mu.Unlock()
	return nil
}

// SetHosts replaces both lists with the same hosts.
func (p *Pool) SetHosts(hosts ...string) error {
	list, err := normalize(hosts)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.read = list
	p.write = append([]string(nil), list...)
	p.mu.Unlock()
	return nil
}

// Hosts returns a copy of the list configured for role.
func (p *Pool) Hosts(role Role) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	src := p.read
	if role == Write {
		src = p.write
	}
	return append([]string(nil), src...)
}

// Eligible returns the hosts of role that tracker considers eligible, in
// configured order. When none qualify the full list is returned.
func (p *Pool) Eligible(role Role, tracker *Tracker, coolDown time.Duration) []string {
	all := p.Hosts(role)
	if tracker == nil {
		return all
	}
	up := make([]string, 0, len(all))
	for _, h := range all {
		if tracker.IsEligible(h, coolDown) {
			up = append(up, h)
		}
	}
	if len(up) == 0 {
		return all
	}
	return up
}

func normalize(hosts []string) ([]string, error) {
	if len(hosts) == 0 {
		return nil, ErrNoHosts
	}
	out := make([]string, len(hosts))
	for i, h := range hosts {
		h = strings.TrimSpace(h)
		if h == "" {
			return nil, fmt.Errorf("%w (index %d)", ErrBlankHost, i)
		}
		out[i] = h
	}
	return out, nil
}

// DefaultHosts derives the standard host lists for appID. The read list
// starts with the DSN host and the write list with the primary host; both
// continue with the same fallback hosts in a random order chosen once per
// call.
func DefaultHosts(appID string) (read, write []string) {
	fallback := []string{
		appID + "-1.algolianet.com",
		appID + "-2.algolianet.com",
		appID + "-3.algolianet.com",
	}
	rand.Shuffle(len(fallback), func(i, j int) {
		fallback[i], fallback[j] = fallback[j], fallback[i]
	})
	read = append([]string{appID + "-dsn.algolia.net"}, fallback...)
	write = append([]string{appID + ".algolia.net"}, fallback...)
	return read, write
}
