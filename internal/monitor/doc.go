// Package monitor defines the domain types and the narrow interfaces shared by
// the checker and updater pipelines. It must not import drivers or clients.
package monitor
