// Package app composes the Centace service: it builds the session
// registry, notification manager, currency converter, error-log sink and
// mailer from configuration and manages their lifecycle.
//
// HTTP handlers live in internal/app/httpapi and depend on this package,
// never the other way round.
package app
