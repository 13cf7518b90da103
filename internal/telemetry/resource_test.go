package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *ResourceRegistry {
	return NewResourceRegistry(nil, 0)
}

// TestCompositeNameCaseInsensitive covers invariant 2: GetResourceByCompositeName is
// case-insensitive, and "-" is the only recognized separator.
func TestCompositeNameCaseInsensitive(t *testing.T) {
	reg := newTestRegistry()
	reg.Resolve([]Attribute{{Key: attrServiceName, Value: "app2"}, {Key: attrServiceInstanceID, Value: "TestId"}}, nil)

	_, ok := reg.GetByCompositeName("APP2-TestId")
	assert.True(t, ok)

	_, ok = reg.GetByCompositeName("APP2_TestId")
	assert.False(t, ok, "underscore separator must not match the '-' canonical form")
}

// TestShortNameUUIDInstances covers invariant 3: two resources sharing a name with UUID
// instance ids each display as "<name>-<first8>".
func TestShortNameUUIDInstances(t *testing.T) {
	reg := newTestRegistry()
	id1 := "11111111-2222-3333-4444-555555555555"
	id2 := "66666666-7777-8888-9999-aaaaaaaaaaaa"

	r1, _ := reg.Resolve([]Attribute{{Key: attrServiceName, Value: "svc"}, {Key: attrServiceInstanceID, Value: id1}}, nil)
	r2, _ := reg.Resolve([]Attribute{{Key: attrServiceName, Value: "svc"}, {Key: attrServiceInstanceID, Value: id2}}, nil)

	assert.Equal(t, "svc-11111111", r1.ShortName)
	assert.Equal(t, "svc-66666666", r2.ShortName)
}

func TestSingleInstanceDisplaysAsName(t *testing.T) {
	reg := newTestRegistry()
	r, _ := reg.Resolve([]Attribute{{Key: attrServiceName, Value: "solo"}, {Key: attrServiceInstanceID, Value: "abc"}}, nil)
	assert.Equal(t, "solo", r.ShortName)
}

func TestResourceViewsByAttributeSet(t *testing.T) {
	reg := newTestRegistry()
	r, v1 := reg.Resolve([]Attribute{{Key: attrServiceName, Value: "svc"}, {Key: attrServiceInstanceID, Value: "1"}}, []Attribute{{Key: "region", Value: "us"}})
	_, v2 := reg.Resolve([]Attribute{{Key: attrServiceName, Value: "svc"}, {Key: attrServiceInstanceID, Value: "1"}}, []Attribute{{Key: "region", Value: "us"}})
	_, v3 := reg.Resolve([]Attribute{{Key: attrServiceName, Value: "svc"}, {Key: attrServiceInstanceID, Value: "1"}}, []Attribute{{Key: "region", Value: "eu"}})

	require.Same(t, v1, v2)
	assert.NotSame(t, v1, v3)
	assert.Len(t, r.Views(), 2)
}

// TestShortNameCacheInvalidatedOnNewInstance covers the registry's memoized ShortName
// lookup: a cached single-instance short name must be invalidated once a second instance
// of the same service.name arrives and forces both onto the "-instanceId" form.
func TestShortNameCacheInvalidatedOnNewInstance(t *testing.T) {
	reg := NewResourceRegistry(nil, 16)
	id1 := "11111111-2222-3333-4444-555555555555"
	reg.Resolve([]Attribute{{Key: attrServiceName, Value: "svc"}, {Key: attrServiceInstanceID, Value: id1}}, nil)

	name, ok := reg.ShortName("svc-" + id1)
	require.True(t, ok)
	assert.Equal(t, "svc", name)

	id2 := "66666666-7777-8888-9999-aaaaaaaaaaaa"
	reg.Resolve([]Attribute{{Key: attrServiceName, Value: "svc"}, {Key: attrServiceInstanceID, Value: id2}}, nil)

	name, ok = reg.ShortName("svc-" + id1)
	require.True(t, ok)
	assert.Equal(t, "svc-11111111", name, "cached pre-collision short name must not be served stale")
}

func TestResourceKeyPrefixSelector(t *testing.T) {
	key := NewResourcePrefixKey("svc")
	assert.True(t, key.Matches("SVC", "anything"))
	assert.False(t, key.Matches("other", "x"))

	concrete := NewResourceKey("svc", "1")
	assert.True(t, concrete.Matches("svc", "1"))
	assert.False(t, concrete.Matches("svc", "2"))
}
