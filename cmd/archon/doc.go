// Command archon is the operator CLI for the request lifecycle engine.
// It registers bulk operations, inspects the request store and package
// catalog, and runs the retry and cleanup maintenance jobs against the
// same database the archond daemon serves.
package main
