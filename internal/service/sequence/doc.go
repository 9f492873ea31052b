// Package sequence implements follow-up scheduling business logic.
//
// The service layer plans email jobs from sequence definitions, cancels
// pending work when a contact replies or unsubscribes, and exposes job and
// event queries for the API. It depends on the repository interface defined
// in this package and should never import from api/.
//
// Repository implementations live in repository/postgres/; tests use the
// in-memory fake in service_test.go.
package sequence
