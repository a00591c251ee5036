package redis

// Redis key naming conventions for docket data.
// All keys are prefixed with "docket:" to avoid collisions.

const keyPrefix = "docket:"

// jobKeyPrefix prefixes job Hash keys: docket:job:{id}
const jobKeyPrefix = keyPrefix + "job:"

// jobKey returns the key for a job entity.
func jobKey(id string) string { return jobKeyPrefix + id }

// queuedKey is the Sorted Set of queued job IDs scored by creation time.
const queuedKey = keyPrefix + "queued"

// processingKey is the Sorted Set of processing job IDs scored by last
// heartbeat.
const processingKey = keyPrefix + "processing"

// tenantJobsKey returns the Sorted Set of a tenant's job IDs scored by
// creation time: docket:tenant:{tenant}:jobs
func tenantJobsKey(tenant string) string { return keyPrefix + "tenant:" + tenant + ":jobs" }

// countsKey is the Hash of job counts per status across all tenants.
const countsKey = keyPrefix + "counts"

// tenantCountsPrefix prefixes per-tenant count Hashes: docket:counts:{tenant}
const tenantCountsPrefix = keyPrefix + "counts:"

// tenantCountsKey returns the Hash of a tenant's job counts per status.
func tenantCountsKey(tenant string) string { return tenantCountsPrefix + tenant }
