package abpfilter

import (
	"strings"

	"github.com/AdguardTeam/abpfilter/internal/ufnet"
	"golang.org/x/exp/slices"
)

// normalizeHost returns the lowercased host without the trailing dot.  It
// returns an empty string for strings that aren't hosts.  URLs are replaced
// with their hosts.
func normalizeHost(host string) (norm string) {
	host = strings.TrimSpace(host)
	if strings.Contains(host, "://") {
		host = ufnet.ExtractHostname(host)
	}

	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if !ufnet.IsHost(host) {
		return ""
	}

	return host
}

// appendHost adds host to hosts unless it's already there or empty.
func appendHost(hosts []string, host string) (res []string) {
	host = normalizeHost(host)
	if host == "" || slices.Contains(hosts, host) {
		return hosts
	}

	return append(hosts, host)
}

// Exceptions returns a copy of the excepted hosts.
func (m *Manager) Exceptions() (hosts []string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.exceptedHosts)
}

// SetExceptions replaces the excepted hosts.
func (m *Manager) SetExceptions(hosts []string) {
	var norm []string
	for _, h := range hosts {
		norm = appendHost(norm, h)
	}

	m.mu.Lock()
	m.exceptedHosts = norm
	m.mu.Unlock()

	m.changed()
}

// AddException adds host to the excepted hosts.
func (m *Manager) AddException(host string) {
	m.mu.Lock()
	prev := len(m.exceptedHosts)
	m.exceptedHosts = appendHost(m.exceptedHosts, host)
	added := len(m.exceptedHosts) != prev
	m.mu.Unlock()

	if added {
		m.changed()
	}
}

// RemoveException removes host from the excepted hosts.
func (m *Manager) RemoveException(host string) {
	host = normalizeHost(host)

	m.mu.Lock()
	i := slices.Index(m.exceptedHosts, host)
	if i >= 0 {
		m.exceptedHosts = slices.Delete(m.exceptedHosts, i, i+1)
	}
	m.mu.Unlock()

	if i >= 0 {
		m.changed()
	}
}

// IsHostExcepted returns true if host is one of the excepted hosts.  The
// comparison is exact and case-insensitive.
func (m *Manager) IsHostExcepted(host string) (ok bool) {
	host = normalizeHost(host)
	if host == "" {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Contains(m.exceptedHosts, host)
}
