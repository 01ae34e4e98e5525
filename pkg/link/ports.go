package link

import (
	"sort"
	"sync"
)

// PortSet tracks the live ports by name. It is safe for concurrent use.
type PortSet struct {
	ports map[string]*Port
	lock  sync.RWMutex
}

// NewPortSet creates an empty PortSet.
func NewPortSet() *PortSet {
	return &PortSet{ports: make(map[string]*Port)}
}

// Add adds p, replacing any port of the same name.
func (s *PortSet) Add(p *Port) {
	s.lock.Lock()
	s.ports[p.Name()] = p
	s.lock.Unlock()
}

// Remove removes p if it is still the port under its name.
func (s *PortSet) Remove(p *Port) {
	s.lock.Lock()
	if s.ports[p.Name()] == p {
		delete(s.ports, p.Name())
	}
	s.lock.Unlock()
}

// Get finds a port by name.
func (s *PortSet) Get(name string) (*Port, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	p, ok := s.ports[name]
	return p, ok
}

// Ports returns the ports sorted by name.
func (s *PortSet) Ports() []*Port {
	s.lock.RLock()
	ports := make([]*Port, 0, len(s.ports))
	for _, p := range s.ports {
		ports = append(ports, p)
	}
	s.lock.RUnlock()
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name() < ports[j].Name() })
	return ports
}
