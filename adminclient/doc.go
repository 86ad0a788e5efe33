// Package adminclient is the dispatcher-side counterpart of adminserver:
// it dials an administration listener, performs admin_login, and offers
// typed request/response calls for the remaining operations of the
// administration RPC engine, plus channels for the two messages the
// server pushes unprompted (change_notification, log_line).
package adminclient
