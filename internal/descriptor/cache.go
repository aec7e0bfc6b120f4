// Package descriptor holds the immutable, in-memory pool of protobuf file
// descriptors the gateway has learned about for one upstream, plus flat
// lookup tables derived from it. A Cache is built once from a complete set
// of resolved service descriptors and never mutated afterward; refreshing
// means building a new Cache and atomically swapping the pointer that
// refers to it (see package reflection).
package descriptor

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jhump/protoreflect/desc"
)

// Cache is pure data: no network I/O happens here. It is safe to share a
// *Cache across goroutines because nothing mutates it after New returns.
type Cache struct {
	files        map[string]*desc.FileDescriptor
	services     map[string]*desc.ServiceDescriptor
	methods      map[string]*desc.MethodDescriptor
	lastLoadedAt time.Time
	generation   string
}

// New builds a Cache from a complete set of resolved service descriptors,
// in the order they were resolved off the wire. It either consumes every
// one of them (and every file transitively backing them), or returns a
// descriptor-integrity error and no Cache at all — a Cache is never
// partially populated.
func New(services []*desc.ServiceDescriptor) (*Cache, error) {
	if len(services) == 0 {
		return nil, fmt.Errorf("descriptor: integrity error: reflection returned no services")
	}

	c := &Cache{
		files:        make(map[string]*desc.FileDescriptor),
		services:     make(map[string]*desc.ServiceDescriptor),
		methods:      make(map[string]*desc.MethodDescriptor),
		lastLoadedAt: time.Now(),
		generation:   uuid.NewString(),
	}

	for _, svc := range services {
		if svc == nil {
			return nil, fmt.Errorf("descriptor: integrity error: nil service descriptor in reflection response")
		}
		name := svc.GetFullyQualifiedName()
		c.services[name] = svc
		c.files[svc.GetFile().GetName()] = svc.GetFile()
		for _, m := range svc.GetMethods() {
			c.methods[name+"."+m.GetName()] = m
		}
	}

	return c, nil
}

// GetMethod looks up a method by its exact, case-sensitive "service.method"
// key, where service is fully qualified (package.Service).
func (c *Cache) GetMethod(service, method string) (*desc.MethodDescriptor, bool) {
	m, ok := c.methods[service+"."+method]
	return m, ok
}

// GetService looks up a service by its fully-qualified name.
func (c *Cache) GetService(service string) (*desc.ServiceDescriptor, bool) {
	s, ok := c.services[service]
	return s, ok
}

// ListServices returns every fully-qualified service name known to this
// Cache, in no particular order.
func (c *Cache) ListServices() []string {
	names := make([]string, 0, len(c.services))
	for name := range c.services {
		names = append(names, name)
	}
	return names
}

// IsStale reports whether this Cache is older than maxAge.
func (c *Cache) IsStale(maxAge time.Duration) bool {
	return time.Since(c.lastLoadedAt) > maxAge
}

// LastLoadedAt returns when this Cache snapshot was built.
func (c *Cache) LastLoadedAt() time.Time { return c.lastLoadedAt }

// Generation returns the opaque id stamped on this snapshot, used only for
// log correlation across refreshes.
func (c *Cache) Generation() string { return c.generation }
