package catalog

import (
	"github.com/shopspring/decimal"
)

// Concern is a named skin condition signal. Code is the attribute key in
// analysis results; Name is matched against free text and must be unique
// case-insensitively.
type Concern struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Routine is a multi-step skincare program owned by the catalog.
type Routine struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	TargetSkinTypes string          `json:"target_skin_types"` // comma-joined tag list
	TotalSteps      int             `json:"total_steps"`
	TotalPrice      decimal.Decimal `json:"total_price"`
}

// RoutineConcernLink is the many-to-many routine <-> concern association.
type RoutineConcernLink struct {
	RoutineID int64 `json:"routine_id"`
	ConcernID int64 `json:"concern_id"`
}

// Catalog is the read-only reference data the reconciliation core works over.
// Slices keep catalog order, which is the tie-break order everywhere.
type Catalog struct {
	Concerns []Concern            `json:"concerns"`
	Routines []Routine            `json:"routines"`
	Links    []RoutineConcernLink `json:"links"`
}

// ConcernByCode returns the concern whose Code matches exactly.
func (c *Catalog) ConcernByCode(code string) (Concern, bool) {
	for _, cn := range c.Concerns {
		if cn.Code == code {
			return cn, true
		}
	}
	return Concern{}, false
}

// RoutinesFor returns the routines linked to concernID, in catalog order.
func (c *Catalog) RoutinesFor(concernID int64) []Routine {
	linked := make(map[int64]bool)
	for _, l := range c.Links {
		if l.ConcernID == concernID {
			linked[l.RoutineID] = true
		}
	}
	var out []Routine
	for _, r := range c.Routines {
		if linked[r.ID] {
			out = append(out, r)
		}
	}
	return out
}
