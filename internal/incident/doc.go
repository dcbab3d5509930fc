// Package incident defines incident records and the Store boundary the
// pipeline stages read and write through.
package incident
