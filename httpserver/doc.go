/*
Package httpserver implements the worker daemon's operational HTTP surface.

It exposes health and diagnostics endpoints alongside read-only queue
introspection:

  - GET /livez - liveness probe
  - GET /readyz - readiness probe, toggled by drain/undrain
  - GET /drain - mark the instance not ready ahead of shutdown
  - GET /undrain - mark the instance ready again
  - GET /api/queue/stats - entry counts per queue status
  - GET /api/documents/{document_id} - document processing state

The document API layer (upload endpoints, auth, request validation) lives in
a separate service; this server only reports on processing state.
*/
package httpserver
