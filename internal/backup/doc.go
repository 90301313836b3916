// Package backup is the scheduling loop: it reads occupancy, picks a timer
// from the policy table, warns players, lands the backup on the advertised
// instant and recovers from every in-cycle failure.
//
// One cycle runs at a time. Every wait is cancellable through the context
// passed to Run.
package backup
