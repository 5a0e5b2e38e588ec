package vdb

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/zoobzio/pulse"
)

// Collection is a named set of VDBs. It is safe for concurrent use.
type Collection struct {
	mu   sync.RWMutex
	vdbs map[string]*VDB
}

// NewCollection creates a collection holding the given VDBs.
func NewCollection(vdbs ...VDB) (*Collection, error) {
	c := &Collection{vdbs: make(map[string]*VDB, len(vdbs))}
	for _, v := range vdbs {
		if err := c.Add(v); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// DecodeCollection reads a document listing VDBs:
//
//	vdbs:
//	  - name: sales
//	    kind: distributor
//	    method: failover
//	    primary: engine-1
//	    mapping:
//	      - {engine: engine-1, database: sales_a}
//	      - {engine: engine-2, database: sales_b}
func DecodeCollection(codec pulse.Codec, data []byte) (*Collection, error) {
	var doc struct {
		VDBs []VDB `json:"vdbs" yaml:"vdbs"`
	}
	if err := codec.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVDB, err)
	}
	return NewCollection(doc.VDBs...)
}

// Add validates v and stores a copy of it, replacing any VDB of the same
// name.
func (c *Collection) Add(v VDB) error {
	if err := v.Validate(); err != nil {
		return err
	}
	v.Mapping = slices.Clone(v.Mapping)

	c.mu.Lock()
	c.vdbs[v.Name] = &v
	c.mu.Unlock()
	return nil
}

// Get returns a copy of the named VDB.
func (c *Collection) Get(name string) (VDB, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.vdbs[name]
	if !ok {
		return VDB{}, false
	}
	out := *v
	out.Mapping = slices.Clone(v.Mapping)
	return out, true
}

// Names returns the VDB names in sorted order.
func (c *Collection) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.vdbs))
	for name := range c.vdbs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// SetPrimary changes the primary engine of the named failover VDB.
func (c *Collection) SetPrimary(name string, engine pulse.EngineID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.vdbs[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownVDB, name)
	}
	return v.SetPrimary(engine)
}

// Resolve maps a comma-separated list of VDB names onto engines. Every name
// must exist. Results are merged per engine in first-seen order; an engine
// serving several of the named VDBs gets their database names joined with
// commas.
func (c *Collection) Resolve(match string, live Liveness) ([]Resolved, error) {
	names := strings.Split(match, ",")

	c.mu.RLock()
	defer c.mu.RUnlock()

	var missing []string
	for _, name := range names {
		if _, ok := c.vdbs[name]; !ok {
			missing = append(missing, fmt.Sprintf("%q", name))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: collection has no entries for databases: %s",
			ErrUnknownVDB, strings.Join(missing, " "))
	}

	var order []pulse.EngineID
	databases := make(map[pulse.EngineID][]string)
	for _, name := range names {
		selected, err := c.vdbs[name].Select(live)
		if err != nil {
			return nil, err
		}
		for _, r := range selected {
			if _, seen := databases[r.Engine]; !seen {
				order = append(order, r.Engine)
			}
			databases[r.Engine] = append(databases[r.Engine], r.Database)
		}
	}

	out := make([]Resolved, 0, len(order))
	for _, id := range order {
		out = append(out, Resolved{Engine: id, Database: strings.Join(databases[id], ",")})
	}
	return out, nil
}
