// Package query implements the structured predicate language used by
// group definitions to select components. A query is a JSON-style
// document: bare keys match attribute equality, `$eq`/`$ne`/`$in`/
// `$nin`/`$not` plus the numeric orderings `$gt`/`$gte`/`$lt`/`$lte`
// and the string operators `$regex`/`$startsWith`/`$endsWith`/
// `$contains` operate on a single attribute, `$and`/`$or` combine
// sub-documents, and the `_id` pseudo-attribute matches the component
// identifier. Parsing validates structure and operand types; matching
// is pure and deterministic.
package query
