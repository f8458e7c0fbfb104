// Package sshmanager drives interactive SSH sessions: it connects and
// authenticates to a host, opens a shell on a pseudo-terminal and hands the
// shell channel to the terminal registry, which owns all byte plumbing from
// then on.
//
// # Session lifecycle
//
//  1. Connect: [SSHManager.Connect] validates the host and resolves the
//     credential before any socket is opened, then dials, performs the SSH
//     handshake, opens the shell and only then allocates a terminal id. A
//     failure at any step leaves no terminal and no transport behind.
//
//  2. Keepalive: each connected session sends keepalive@openssh.com at the
//     host's interval. A failed keepalive moves the session to
//     [StatusError] and tears down its terminal.
//
//  3. Disconnect: [SSHManager.Disconnect] closes the transport, marks the
//     session [StatusDisconnected] and destroys the terminal. When the
//     terminal is still inside its grace period the destroy is deferred and
//     Disconnect returns an error wrapping [ErrDestroyDeferred] so the caller
//     can retry; the registry retries on its own as well.
//
// A new Connect always creates a new session id. There is no reconnect.
//
// # Rate limiting
//
// The [RateLimiter] protects hosts against connection storms:
//   - Per-minute limit: at most MaxAttemptsPerMinute attempts per host.
//   - Failure block: after MaxConsecFailures consecutive failures the host is
//     blocked for BlockDuration. A successful connect clears the counter.
//
// # Event history
//
// Every connect, failed connect, disconnect, keepalive failure and SFTP probe
// is recorded per host in a ring buffer of the last 100 events
// ([SSHManager.GetEvents]). Failed connects are only recorded there; they
// never create a session record.
package sshmanager
