// Package jsonldb stores rows of one Go type in a JSON Lines file.
//
// A [Table] keeps every row in memory, sorted by ksid, and rewrites the file
// through a temporary file on each mutation; appends only add a line. The
// first line is a schema header listing the columns of the row type, derived
// from its JSON Schema.
//
// Single row operations are atomic under the table lock. Nothing spans rows:
// callers that need multi-row consistency order their writes.
//
// [UniqueIndex] and [Index] follow table mutations as [TableObserver]s.
//
// Rows implementing [BlobHolder] may carry [Blob] fields. Blob content lives
// under "<name>.blobs", addressed by the sha256 of the uncompressed bytes and
// compressed with the table's [Compression].
package jsonldb
