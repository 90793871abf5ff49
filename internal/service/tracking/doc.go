// Package tracking implements the open/click tracking core: recording
// events, resolving click redirect targets and aggregating per-tenant
// statistics for the dashboard.
//
// The service layer contains pure business logic and depends on the
// Repository interface defined in repository.go. It never imports
// net/http or database/sql directly. Every operation is scoped by tenant
// ID; no call reads or writes another tenant's rows.
package tracking
