// Package cmd implements the command-line interface of dDoc. It provides a
// hierarchical command structure with operations for running the server, the
// demo web app and for interacting with a server as a client.
//
// The package is organized into several subpackages:
//
//   - doc: Commands for document store operations (find, insert, update, ...) and a performance test
//   - serve: Commands for starting and configuring the dDoc server
//   - web: Command for starting the demo web app
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See ddoc -help for a list of all commands.
package cmd
