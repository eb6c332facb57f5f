// Package core holds the credential lifecycle domain: tenants, connected
// accounts, versioned encrypted credentials, authorization handshakes and the
// refresh/health services built on them. Storage, ciphers and providers are
// injected through the contracts declared here.
package core
