package units

import (
	"errors"
	"sort"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/safing/quiesce/service/quiesce"
)

// ErrUnitExists is returned when a unit with the same ID is already known.
var ErrUnitExists = errors.New("unit already exists")

// Catalog holds the units known to the daemon.
type Catalog struct {
	units cmap.ConcurrentMap[string, quiesce.Unit]
}

var _ quiesce.Catalog = &Catalog{}

// NewCatalog returns a new, empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		units: cmap.New[quiesce.Unit](),
	}
}

// Add adds a unit.
func (c *Catalog) Add(u quiesce.Unit) error {
	if !c.units.SetIfAbsent(u.ID(), u) {
		return ErrUnitExists
	}
	return nil
}

// Unit returns the unit with the given ID.
func (c *Catalog) Unit(id string) (quiesce.Unit, bool) {
	return c.units.Get(id)
}

// Units returns all units, sorted by ID.
func (c *Catalog) Units() []quiesce.Unit {
	items := c.units.Items()
	list := make([]quiesce.Unit, 0, len(items))
	for _, u := range items {
		list = append(list, u)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID() < list[j].ID()
	})
	return list
}
