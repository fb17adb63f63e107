// Package logging provides small logrus field helpers so call sites in the
// connection pipeline don't repeat WithFields boilerplate.
package logging

import log "github.com/sirupsen/logrus"

// ForConn returns an entry tagged with the request's correlation fields.
func ForConn(requestID, host, matchedHost string) *log.Entry {
	return log.WithFields(log.Fields{
		"request_id":   requestID,
		"host":         host,
		"matched_host": matchedHost,
	})
}

// ForBackend returns an entry tagged with a backend's address.
func ForBackend(address string) *log.Entry {
	return log.WithField("backend", address)
}
