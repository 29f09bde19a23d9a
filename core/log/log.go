// Package log centralises structured logging for the fabric, mirroring the
// per-subsystem logrus usage in the teacher's core/network.go and
// core/security.go (each keeps its own named logger rather than a single
// shared instance).
package log

import "github.com/sirupsen/logrus"

// For returns a logger scoped to the named component.
func For(component string) *logrus.Entry {
	return logrus.WithField("component", component)
}
