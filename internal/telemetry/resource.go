package telemetry

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	attrServiceName       = "service.name"
	attrServiceInstanceID = "service.instance.id"
)

// Scope mirrors an OTLP InstrumentationScope. A canonical empty scope is shared via
// EmptyScope so comparisons are cheap.
type Scope struct {
	Name       string
	Version    string
	Attributes []Attribute
}

// EmptyScope is the canonical empty instrumentation scope.
var EmptyScope = Scope{}

// ResourceView is one distinct attribute-set observed for a Resource, excluding the
// identity keys (service.name, service.instance.id).
type ResourceView struct {
	Resource   *Resource
	Attributes []Attribute
	signature  string
}

// Resource is a logical emitter identity: (service.name, service.instance.id), or a
// synthesized uninstrumented peer when UninstrumentedPeer is true.
type Resource struct {
	Key                ResourceKey
	ShortName          string
	UninstrumentedPeer bool

	mu    sync.Mutex
	views []*ResourceView
}

// Views returns a snapshot of the resource's observed attribute-sets.
func (r *Resource) Views() []*ResourceView {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ResourceView, len(r.views))
	copy(out, r.views)
	return out
}

func (r *Resource) viewFor(attrs []Attribute) *ResourceView {
	sig := normalizedAttributeSignature(attrs)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.views {
		if v.signature == sig {
			return v
		}
	}
	v := &ResourceView{Resource: r, Attributes: attrs, signature: sig}
	r.views = append(r.views, v)
	return v
}

// ResourceRegistry identifies resources by (service.name, service.instance.id), maintains
// one ResourceView per distinct attribute-set, and computes display short names.
type ResourceRegistry struct {
	mu        sync.RWMutex
	resources map[string]*Resource   // composite key (lowercased) -> resource
	byName    map[string][]*Resource // lowercased name -> instances sharing that name
	keyCache  *lru.Cache[string, string]
	logger    *slog.Logger
}

// NewResourceRegistry builds an empty registry. propertyKeyCacheSize bounds an internal
// LRU used to memoize short-name lookups; 0 disables the cache.
func NewResourceRegistry(logger *slog.Logger, propertyKeyCacheSize int) *ResourceRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	var cache *lru.Cache[string, string]
	if propertyKeyCacheSize > 0 {
		cache, _ = lru.New[string, string](propertyKeyCacheSize)
	}
	return &ResourceRegistry{
		resources: make(map[string]*Resource),
		byName:    make(map[string][]*Resource),
		keyCache:  cache,
		logger:    logger,
	}
}

// Resolve extracts (service.name, service.instance.id) from identity attributes and
// returns the Resource and the ResourceView for the remaining (non-identity) attributes,
// creating both on first observation.
func (reg *ResourceRegistry) Resolve(identityAttrs, otherAttrs []Attribute) (*Resource, *ResourceView) {
	name, _ := AttributeValue(identityAttrs, attrServiceName)
	if name == "" {
		name = "unknown_service"
	}
	instanceID, hasInstance := AttributeValue(identityAttrs, attrServiceInstanceID)

	res := reg.getOrCreate(name, instanceID, hasInstance, false)
	view := res.viewFor(otherAttrs)
	return res, view
}

// ResolvePeer creates or returns the uninstrumented peer resource with the given display
// name. Peer resources have a nil InstanceID.
func (reg *ResourceRegistry) ResolvePeer(name string) *Resource {
	return reg.getOrCreate(name, "", false, true)
}

func (reg *ResourceRegistry) getOrCreate(name, instanceID string, hasInstance, peer bool) *Resource {
	var key ResourceKey
	if peer || !hasInstance {
		key = NewResourcePrefixKey(name)
	} else {
		key = NewResourceKey(name, instanceID)
	}
	composite := strings.ToLower(key.Composite())

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if r, ok := reg.resources[composite]; ok {
		return r
	}

	r := &Resource{Key: key, UninstrumentedPeer: peer}
	reg.resources[composite] = r
	lname := strings.ToLower(name)
	reg.byName[lname] = append(reg.byName[lname], r)
	reg.recomputeShortNames(lname)
	return r
}

// recomputeShortNames recomputes display names for every instance sharing lname, applying
// the UUID-short-form rule when multiple instances share a name.
func (reg *ResourceRegistry) recomputeShortNames(lname string) {
	instances := reg.byName[lname]
	if len(instances) == 1 {
		instances[0].ShortName = instances[0].Key.Name
		reg.invalidateShortNameCache(lname)
		return
	}
	for _, r := range instances {
		if r.Key.InstanceID == nil {
			r.ShortName = r.Key.Name
			continue
		}
		id := *r.Key.InstanceID
		if isLowercaseUUID(id) {
			r.ShortName = r.Key.Name + "-" + id[:8]
		} else {
			r.ShortName = r.Key.Name + "-" + id
		}
	}
	reg.invalidateShortNameCache(lname)
}

// invalidateShortNameCache drops every cached short name for instances sharing lname,
// since recomputeShortNames may have changed all of them at once (e.g. a second instance
// of the same service.name arriving forces every sibling onto the "-instanceId" form).
func (reg *ResourceRegistry) invalidateShortNameCache(lname string) {
	if reg.keyCache == nil {
		return
	}
	for _, r := range reg.byName[lname] {
		reg.keyCache.Remove(strings.ToLower(r.Key.Composite()))
	}
}

// ShortName resolves the display short name for a composite resource key, memoizing the
// result in the registry's bounded LRU so repeated dashboard lookups (e.g. annotating a
// page of log rows) skip the resources-map lookup.
func (reg *ResourceRegistry) ShortName(composite string) (string, bool) {
	lc := strings.ToLower(composite)
	if reg.keyCache != nil {
		if name, ok := reg.keyCache.Get(lc); ok {
			return name, true
		}
	}
	reg.mu.RLock()
	r, ok := reg.resources[lc]
	reg.mu.RUnlock()
	if !ok {
		return "", false
	}
	if reg.keyCache != nil {
		reg.keyCache.Add(lc, r.ShortName)
	}
	return r.ShortName, true
}

// GetByCompositeName performs a case-insensitive lookup against the canonical composite
// form; "-" is the only recognized separator.
func (reg *ResourceRegistry) GetByCompositeName(composite string) (*Resource, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.resources[strings.ToLower(composite)]
	return r, ok
}

// List returns all resources ordered by name (case-insensitive) then instanceId.
// includeUninstrumentedPeers controls whether synthesized peers are included.
func (reg *ResourceRegistry) List(includeUninstrumentedPeers bool) []*Resource {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Resource, 0, len(reg.resources))
	for _, r := range reg.resources {
		if r.UninstrumentedPeer && !includeUninstrumentedPeers {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		ni, nj := strings.ToLower(out[i].Key.Name), strings.ToLower(out[j].Key.Name)
		if ni != nj {
			return ni < nj
		}
		ii, ij := "", ""
		if out[i].Key.InstanceID != nil {
			ii = *out[i].Key.InstanceID
		}
		if out[j].Key.InstanceID != nil {
			ij = *out[j].Key.InstanceID
		}
		return ii < ij
	})
	return out
}

// Remove deletes a resource entirely from the registry (used by ClearSelectedSignals when
// all data categories are selected for it).
func (reg *ResourceRegistry) Remove(composite string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	lc := strings.ToLower(composite)
	r, ok := reg.resources[lc]
	if !ok {
		return
	}
	delete(reg.resources, lc)
	lname := strings.ToLower(r.Key.Name)
	instances := reg.byName[lname]
	for i, inst := range instances {
		if inst == r {
			reg.byName[lname] = append(instances[:i], instances[i+1:]...)
			break
		}
	}
	if len(reg.byName[lname]) == 0 {
		delete(reg.byName, lname)
	} else {
		reg.recomputeShortNames(lname)
	}
}
