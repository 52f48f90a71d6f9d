// Package task manages background job records and their lifecycle. It
// provides the task ledger behind long-running operations like background
// classification runs, including retry lineage and recovery of tasks left
// running by a crashed process.
package task
