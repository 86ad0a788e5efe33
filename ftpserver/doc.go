// Package ftpserver implements the FTP/FTPS session state machine of
// spec.md §4.6/§4.7: per-connection command parsing, the TLS upgrade
// handshake, PASV/EPSV/PORT/EPRT data connection setup, transfers, and
// the listener's allow/disallow filtering and autoban.
//
// Authentication and authorization are delegated to auth.Authenticator;
// filesystem access is delegated to a tvfs.Table resolved per session.
// Unlike the driver abstraction this package's ancestor used, there is
// no pluggable backend: every session talks directly to the local
// filesystem through the mounts its login resolved.
package ftpserver
