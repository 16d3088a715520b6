package quiesce

import (
	"sort"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// UnitRegistry records which units are currently being quiesced.
// A unit is present if and only if an in-flight request owns it.
type UnitRegistry struct {
	units cmap.ConcurrentMap[string, Unit]
}

// NewUnitRegistry returns a new, empty unit registry.
func NewUnitRegistry() *UnitRegistry {
	return &UnitRegistry{
		units: cmap.New[Unit](),
	}
}

// TryAcquire claims the unit. It returns false if the unit is already owned.
func (ur *UnitRegistry) TryAcquire(u Unit) bool {
	return ur.units.SetIfAbsent(u.ID(), u)
}

// Release removes the unit. Releasing an absent unit is a no-op.
func (ur *UnitRegistry) Release(u Unit) {
	ur.units.Remove(u.ID())
}

// Contains returns whether the unit is currently owned by a request.
func (ur *UnitRegistry) Contains(u Unit) bool {
	return ur.ContainsID(u.ID())
}

// ContainsID is like Contains, but takes a unit ID.
func (ur *UnitRegistry) ContainsID(id string) bool {
	return ur.units.Has(id)
}

// Len returns the number of owned units.
func (ur *UnitRegistry) Len() int {
	return ur.units.Count()
}

// IDs returns the sorted IDs of all owned units.
func (ur *UnitRegistry) IDs() []string {
	ids := ur.units.Keys()
	sort.Strings(ids)
	return ids
}
