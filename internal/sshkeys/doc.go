// Package sshkeys generates ED25519 key pairs for host authentication and
// writes them to the key directory.
//
// Private keys are written in OpenSSH format with mode 0600, optionally
// encrypted with a passphrase; the key directory is created with 0700. The
// public key is stored next to it in authorized_keys format with a .pub
// suffix.
package sshkeys
