// Package lifecycle provides the http plumbing shared by the rpc server and
// the web app: graceful start and stop, liveness and readiness probes, the
// metrics endpoint and request logging.
package lifecycle
