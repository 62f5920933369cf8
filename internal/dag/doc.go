// Package dag holds the action graph: a directed acyclic graph of action
// nodes where every edge points from a dependent to the node it depends on.
//
// Nodes are interned by their value-equality key, so inserting the same action
// twice yields the same index. Ordering functions return dependencies before
// dependents, either as a flat sequence or as batches whose members are
// mutually independent and may run in parallel.
package dag
