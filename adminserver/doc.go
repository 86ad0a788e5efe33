// Package adminserver implements the administration RPC engine's server
// side (spec.md §4.8): it terminates adminproto sessions, authenticates
// admin_login, dispatches configuration, session, and certificate
// operations against the authoritative config.Settings, persists
// mutations, and fans out change_notification/log_line broadcasts to
// every logged-in session.
package adminserver
