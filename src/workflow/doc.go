// Package workflow moves DHT ops through their lifecycle.
//
// Each workflow is a Consumer: a goroutine that runs a function whenever it
// is triggered, at most one run at a time. Triggers coalesce, so ten triggers
// during a run cause exactly one more run. When a run completes it triggers
// the workflows downstream of it:
//
//	produce       -> publish
//	sys_validate  -> app_validate, integrate
//	app_validate  -> integrate
//	integrate     -> sys_validate, app_validate, agent_activity, receipt
//
// The authoring side of a cell (produce and publish) lives in Author. The
// authority side of a DNA space (incoming ops, validation, integration,
// agent activity and receipts) lives in Dht.
//
// Workflows read their work from the op tables of the stores, not from their
// queues, so dropping a queued trigger never loses work and re-running a
// workflow on the same state has no further effect.
package workflow
