// Package engine implements the host-convergence core: rendering a playbook
// into a concrete operation sequence, evaluating each operation's guard,
// applying the unsatisfied ones in declared order, and fanning the per-host
// runner out across an inventory.
package engine
