/*
resource.go - Resource type registration and lookup

PURPOSE:
  Domain packages register the codes their ledger accounts track so that
  storage layers can turn a stored string back into the concrete type.

HOW IT WORKS:
  1. Domain packages define their ResourceType implementations
  2. They register them in init()
  3. Stores use the registry when scanning rows

USAGE:
  func init() {
      for _, c := range AllCodes() {
          generic.RegisterResource(c)
      }
  }

  code := generic.LookupResource("cpp")  // returns payroll.CodeCPP

SEE ALSO:
  - types.go: ResourceType interface definition
  - payroll/types.go: Deduction and earning codes
*/
package generic

import (
	"sort"
	"sync"
)

var (
	resourceRegistry = make(map[string]ResourceType)
	registryMu       sync.RWMutex
)

// RegisterResource adds a resource type to the global registry.
func RegisterResource(r ResourceType) {
	registryMu.Lock()
	defer registryMu.Unlock()
	resourceRegistry[r.ResourceID()] = r
}

// LookupResource finds a registered resource type by ID.
// Returns nil if not found.
func LookupResource(id string) ResourceType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return resourceRegistry[id]
}

// ListResourcesByDomain returns resources for a domain, sorted by ID.
func ListResourcesByDomain(domain string) []ResourceType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	var result []ResourceType
	for _, r := range resourceRegistry {
		if r.ResourceDomain() == domain {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ResourceID() < result[j].ResourceID() })
	return result
}

// StringResource is a fallback for IDs with no registered type.
type StringResource struct {
	ID     string
	Domain string
}

func (r StringResource) ResourceID() string     { return r.ID }
func (r StringResource) ResourceDomain() string { return r.Domain }

// GetOrCreateResource returns the registered type for id, or a StringResource
// in the "unknown" domain so rows written by a newer binary still load.
func GetOrCreateResource(id string) ResourceType {
	if r := LookupResource(id); r != nil {
		return r
	}
	return StringResource{ID: id, Domain: "unknown"}
}
