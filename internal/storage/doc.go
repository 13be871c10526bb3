// Package storage persists routines, the run ledger, capability effects, the
// event journal and notifier dedup state.
//
// Two drivers exist: "memory" and "sqlite". Routines are stored in their
// {type, params} record form; decoding into typed triggers and actions
// happens above this layer.
package storage
