package telemetry

// PeerResolver is the external "outgoing peer resolver" collaborator: given a client-kind
// span's attributes, it may identify an uninstrumented peer service by name. It also
// offers a change notification so previously-unresolved spans can be re-resolved once the
// resolver's backing data changes (e.g. a newly registered service).
type PeerResolver interface {
	// Resolve returns the peer's display name for the given attribute set, or ok=false if
	// no peer can be identified.
	Resolve(attrs []Attribute) (name string, ok bool)
	// OnChange registers a callback invoked whenever the resolver's answers may have
	// changed; TraceStore uses it to re-resolve spans that previously had no peer.
	OnChange(cb func())
	// ResourceRegistry returns the registry peer resources should be created in, so the
	// resolver and the trace store share the same Resource identity space.
	ResourceRegistry() *ResourceRegistry
}

// StaticPeerResolver is a minimal PeerResolver backed by an in-memory lookup table, keyed
// by the conventional OTLP client-span attributes used to identify a destination
// ("peer.service", falling back to "net.peer.name"/"server.address"). Production code is
// expected to supply its own PeerResolver; this implementation exists so the repository is
// usable standalone and so tests can exercise peer resolution changes deterministically.
type StaticPeerResolver struct {
	registry *ResourceRegistry

	names     map[string]string
	listeners []func()
}

// NewStaticPeerResolver builds a resolver with no known peers.
func NewStaticPeerResolver(registry *ResourceRegistry) *StaticPeerResolver {
	return &StaticPeerResolver{registry: registry, names: make(map[string]string)}
}

// SetPeerName registers (or updates) the destination name for the given attribute value
// and fires change notifications.
func (r *StaticPeerResolver) SetPeerName(attrValue, peerName string) {
	r.names[attrValue] = peerName
	for _, cb := range r.listeners {
		cb()
	}
}

var peerAttributeKeys = []string{"peer.service", "net.peer.name", "server.address"}

// Resolve implements PeerResolver.
func (r *StaticPeerResolver) Resolve(attrs []Attribute) (string, bool) {
	for _, key := range peerAttributeKeys {
		if v, ok := AttributeValue(attrs, key); ok {
			if name, known := r.names[v]; known {
				return name, true
			}
		}
	}
	return "", false
}

// OnChange implements PeerResolver.
func (r *StaticPeerResolver) OnChange(cb func()) {
	r.listeners = append(r.listeners, cb)
}

// ResourceRegistry implements PeerResolver.
func (r *StaticPeerResolver) ResourceRegistry() *ResourceRegistry {
	return r.registry
}
