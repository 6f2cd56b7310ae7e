// Package tls builds the mutual-TLS server configuration. The server key
// pair and the client CA bundle are held by a CertReloader, which watches
// the files with fsnotify and swaps them in without a restart.
package tls
