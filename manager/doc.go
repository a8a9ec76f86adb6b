// Package manager is the top-level façade of the worker pool. It owns the
// bus, the scheduler, the health monitor and the recovery manager, and is
// the only component external callers talk to: registration, dispatch,
// result retrieval, cancellation and system status all go through it.
//
// Ownership is one-directional. Workers never hold a reference back to the
// manager; they receive tasks through their bus inbox and post results to
// the scheduler. The recovery strategies reach workers through narrow
// callback interfaces the manager implements.
package manager
