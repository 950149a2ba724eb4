// Package server hosts the Fiber HTTP service that exposes the image loader:
// request-ID middleware, the /image load and evict endpoints, and the
// /-/prefetch warm-up endpoint. Diagnostics live in the routes subpackage and
// are attached by the binary, so keep exports narrow and accept explicit
// dependencies.
package server
