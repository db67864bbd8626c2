// Package sqlite is the reference query provider: it resolves reducer
// queries against a SQLite database and applies a finished invocation's
// effects in a single transaction.
//
// Reducer queries run individually as reads; nothing a reducer does touches
// the database until its effects are applied. That split is what makes an
// invocation abortable at any suspend point with no cleanup.
package sqlite
