// Package catalog provides read and bulk-write access to archival package
// entities. The lifecycle engine only mutates packages through runner jobs;
// everything else treats this store as a paginated query surface.
package catalog
