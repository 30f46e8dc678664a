// ABOUTME: Extension point catalog: the named seams plugins may attach to.
// ABOUTME: Points are declared once at startup and never removed.

package core

import (
	"fmt"
	"slices"
	"sync"
)

// Kind distinguishes side-effect hooks from value-threading filters.
type Kind string

const (
	KindHook   Kind = "hook"
	KindFilter Kind = "filter"
)

// ExtensionPoint declares a seam and the argument names handlers receive.
type ExtensionPoint struct {
	Name string
	Kind Kind
	Args []string
}

// Builtin extension points fired by the host.
const (
	ListeningCreated = "listening_created"
	ListeningNow     = "listening_now"
	Scan             = "scan"
)

// BuiltinPoints lists the points every Host declares.
var BuiltinPoints = []ExtensionPoint{
	{Name: ListeningCreated, Kind: KindHook, Args: []string{"listening"}},
	{Name: ListeningNow, Kind: KindHook, Args: []string{"track", "user"}},
	{Name: Scan, Kind: KindHook, Args: []string{"library"}},
}

// Catalog holds declared extension points.
type Catalog struct {
	mu     sync.RWMutex
	points map[string]ExtensionPoint
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{points: make(map[string]ExtensionPoint)}
}

// Declare registers an extension point. Declaring the same name twice fails.
func (c *Catalog) Declare(p ExtensionPoint) error {
	if p.Name == "" {
		return fmt.Errorf("extension point name cannot be empty")
	}
	if p.Kind != KindHook && p.Kind != KindFilter {
		return fmt.Errorf("extension point %s: unknown kind %q", p.Name, p.Kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.points[p.Name]; exists {
		return fmt.Errorf("extension point %q already declared", p.Name)
	}
	p.Args = slices.Clone(p.Args)
	c.points[p.Name] = p
	return nil
}

// Lookup returns the declared point or a LookupError.
func (c *Catalog) Lookup(name string) (ExtensionPoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.points[name]
	if !ok {
		return ExtensionPoint{}, &LookupError{Name: name}
	}
	return p, nil
}

// Names returns the declared point names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.points))
	for name := range c.points {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// CheckArgs verifies that every argument name was declared by the point.
func (p ExtensionPoint) CheckArgs(args Args) error {
	for name := range args {
		if !slices.Contains(p.Args, name) {
			return &ArgumentError{Point: p.Name, Argument: name}
		}
	}
	return nil
}
