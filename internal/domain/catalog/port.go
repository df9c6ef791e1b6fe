package catalog

import "context"

// Repository loads the concern/routine reference data.
type Repository interface {
	LoadCatalog(ctx context.Context) (*Catalog, error)
}
