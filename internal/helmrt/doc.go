// Package helmrt implements the workload runtime on the Helm SDK. One
// Runtime serves all namespaces, caching an action.Configuration per
// namespace because Helm scopes release storage to the namespace it was
// initialized with.
package helmrt
