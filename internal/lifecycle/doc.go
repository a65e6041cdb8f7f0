// Package lifecycle orchestrates crawler records through create, update,
// start, stop and delete.
//
// Every mutation is a load, apply, save sequence guarded by the repository's
// version check. A start additionally fans the crawler's start URLs out to the
// publisher, one message per address.
package lifecycle
