package domain

import "context"

// ResyncSummary reports one full refresh from the billing source.
type ResyncSummary struct {
	Fetched  int
	Upserted int
}

// Service refreshes the canonical subscription table from the billing source.
type Service interface {
	// Resync pulls every subscription from the provider, reclassifies it and
	// upserts the canonical rows. A source failure aborts the whole run.
	Resync(ctx context.Context) (ResyncSummary, error)
}
