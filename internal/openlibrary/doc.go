// Package openlibrary is a small client for the Open Library search API.
//
// Search returns either a Result or one of three typed failures:
// *TransportError (the request never produced a response), *StatusError
// (non-200 response) and *DecodeError (unexpected payload). Callers pick
// the user-facing outcome with errors.As.
package openlibrary
