// Package server hosts the Fiber HTTP service, the request middleware chain
// and the shared upstream HTTP client. Every request outside the reserved /-/
// prefix is handed to a ProxyHandler; diagnostics and control endpoints live
// in the routes subpackage. Keep exports narrow and accept explicit
// dependencies so that proxy and worker packages can import this one.
package server
