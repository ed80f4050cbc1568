// Package oxia implements the MetadataStore interface using Oxia.
//
// Oxia is a distributed, sharded key-value store with per-key versions. It is
// the backend of choice when several bulkgc processes share command statuses:
// an abort requested through one process is observed by the process running
// the command on its next bucket.
//
// Usage:
//
//	store, err := oxia.New(ctx, oxia.Config{
//	    ServiceAddress: "localhost:6648",
//	    Namespace:      "bulkgc/default",
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
// Listing:
//
// Oxia sorts keys hierarchically by '/' segments. A List with an empty end
// key and a prefix ending in '/' returns the direct children of that prefix,
// which is how every bulkgc key family is laid out.
package oxia
