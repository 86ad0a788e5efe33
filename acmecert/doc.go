// Package acmecert manages the TLS certificates a listener presents:
// user-provided PEM bundles, self-signed certificates generated in
// process, uploaded bundles, and certificates obtained through ACME
// (RFC 8555), as described by SPEC_FULL.md §4.9/§4.9a.
package acmecert
