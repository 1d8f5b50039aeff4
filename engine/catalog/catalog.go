// Package catalog holds the process-wide set of registered tank parameters.
// It is built once at startup from configuration and read-only afterwards, so
// lookups need no synchronization.
package catalog

import (
	"fmt"

	"github.com/99souls/fuelwatch/engine/models"
)

// Catalog is the immutable registry of tank parameter descriptors.
type Catalog struct {
	list  []models.TankParam
	byID  map[models.TankID]models.TankParam
	byKey map[string]models.TankParam
}

// New validates and indexes the configured tank parameters. Duplicate IDs or
// message attributes are configuration errors.
func New(params []models.TankParam) (*Catalog, error) {
	c := &Catalog{
		list:  make([]models.TankParam, 0, len(params)),
		byID:  make(map[models.TankID]models.TankParam, len(params)),
		byKey: make(map[string]models.TankParam, len(params)),
	}
	for _, p := range params {
		if p.MsgAttr == "" {
			return nil, fmt.Errorf("tank parameter %s: msg_attr required", p.ID)
		}
		if _, ok := c.byID[p.ID]; ok {
			return nil, fmt.Errorf("duplicate tank parameter id %s", p.ID)
		}
		if _, ok := c.byKey[p.MsgAttr]; ok {
			return nil, fmt.Errorf("duplicate tank msg_attr %q", p.MsgAttr)
		}
		c.list = append(c.list, p)
		c.byID[p.ID] = p
		c.byKey[p.MsgAttr] = p
	}
	return c, nil
}

// List returns the registered parameters in configuration order. The returned
// slice must not be mutated.
func (c *Catalog) List() []models.TankParam { return c.list }

// ByID looks a parameter up by identifier.
func (c *Catalog) ByID(id models.TankID) (models.TankParam, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// Contains reports whether id names a registered parameter.
func (c *Catalog) Contains(id models.TankID) bool {
	_, ok := c.byID[id]
	return ok
}

// Len returns the number of registered parameters.
func (c *Catalog) Len() int { return len(c.list) }
