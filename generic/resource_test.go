package generic_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/payroll-engine/generic"
)

func TestResourceRegistry(t *testing.T) {
	generic.RegisterResource(generic.StringResource{ID: "zz-levy", Domain: "registry-test"})
	generic.RegisterResource(generic.StringResource{ID: "aa-levy", Domain: "registry-test"})

	// Listed by domain in ID order
	got := generic.ListResourcesByDomain("registry-test")
	if assert.Len(t, got, 2) {
		assert.Equal(t, "aa-levy", got[0].ResourceID())
		assert.Equal(t, "zz-levy", got[1].ResourceID())
	}

	assert.Equal(t, "registry-test", generic.GetOrCreateResource("aa-levy").ResourceDomain())
	assert.Nil(t, generic.LookupResource("never-registered"))

	// Unknown IDs still load, in the unknown domain
	fallback := generic.GetOrCreateResource("never-registered")
	assert.Equal(t, "never-registered", fallback.ResourceID())
	assert.Equal(t, "unknown", fallback.ResourceDomain())
}
