package docket

import "github.com/xraph/docket/id"

// ID is the primary identifier type for all docket entities.
type ID = id.ID

// JobID identifies a document-generation job.
type JobID = id.JobID

// WorkerID identifies a worker pool instance.
type WorkerID = id.WorkerID
