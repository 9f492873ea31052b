// Package httputil holds the JSON request/response helpers shared by the
// engine's HTTP handlers: a common success/error envelope, status-specific
// writers, and request body decoding with a size cap.
package httputil
