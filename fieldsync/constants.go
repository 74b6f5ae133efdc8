// Copyright 2025 FieldSync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

// Entity type constants for the shared dataset
const (
	EntityCustomers = "customers"
	EntityOrders    = "orders"
	EntityProducts  = "products"
	EntityPrices    = "prices"
)

// EntityTypes is the closed set of entity types tracked in the change log.
// Order matters: it is the default filter for delta requests.
var EntityTypes = []string{EntityCustomers, EntityOrders, EntityProducts, EntityPrices}

// Operation constants for change log entries
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Job type constants for sync jobs
const (
	JobSyncCustomers = "sync-customers"
	JobSyncOrders    = "sync-orders"
	JobSyncProducts  = "sync-products"
	JobSyncPrices    = "sync-prices"
	JobFullSync      = "full-sync"
	JobSharedSync    = "shared-sync"
)

// JobTypes is the closed set of sync job types accepted by the queue.
var JobTypes = []string{
	JobSyncCustomers,
	JobSyncOrders,
	JobSyncProducts,
	JobSyncPrices,
	JobFullSync,
	JobSharedSync,
}

// Job state constants
const (
	StateWaiting     = "waiting"
	StateActive      = "active"
	StateCompleted   = "completed"
	StateFailed      = "failed"
	StateDelayed     = "delayed"
	StatePrioritized = "prioritized"
)

// Role constants for the JWT role claim
const (
	RoleAgent = "agent"
	RoleAdmin = "admin"
)

// SharedAgentID is the reserved lock identity for shared-data jobs, so that
// shared maintenance serializes the same way per-agent jobs do.
const SharedAgentID = "shared"

// MaxDeltaChanges caps the number of entries returned by a single delta
// query; clients needing more re-poll with the last returned version.
const MaxDeltaChanges = 10000

// IsKnownEntityType reports whether t is one of the tracked entity types.
func IsKnownEntityType(t string) bool {
	for _, known := range EntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsKnownJobType reports whether t is one of the enumerated sync job types.
func IsKnownJobType(t string) bool {
	for _, known := range JobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// entityTypeForJob maps an entity-scoped job type to the entity it syncs.
// Returns "" for job types that cover the full dataset.
func entityTypeForJob(jobType string) string {
	switch jobType {
	case JobSyncCustomers:
		return EntityCustomers
	case JobSyncOrders:
		return EntityOrders
	case JobSyncProducts:
		return EntityProducts
	case JobSyncPrices:
		return EntityPrices
	default:
		return ""
	}
}
