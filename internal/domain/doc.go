// Package domain defines the core business types for the follow-up engine.
//
// Types in this package are pure value objects with no behavior beyond
// validation and pure evaluation functions. They are the shared language
// between handlers, services, repositories, and workers.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Pure functions on the types are allowed (condition evaluation lives
//     here for that reason)
//   - Constants and enums belong here
package domain
