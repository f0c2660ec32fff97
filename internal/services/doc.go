// Package services holds cross-cutting helpers for external collaborators:
// sentinel error markers with wrapping, and context annotations consumed by
// structured logging. Concrete clients live in subpackages.
package services
