// Package memory is the unified store service: tier and scope
// invariants, CRUD with duplicate detection, cascade delete, tier
// migration, baseline keyword search, and aggregate analytics.
package memory
