// Package datasets implements the dataset revision log and its read paths.
//
// Examples carry no content of their own. Every change is an immutable revision
// tagged to a dataset version, and reads resolve "as of" a version:
//   - Append adds one revision per (example, version) and never overwrites.
//   - Resolve picks the revision with the greatest version ordinal at or before the
//     cursor. A DELETE hit or no hit at all is reported as NotFoundError.
//   - Snapshot materializes every live example as of a version in one read, in
//     example creation order.
//
// ApplyChanges is the write path used by the API and CLI: it allocates the next
// version and appends one revision per change.
package datasets
