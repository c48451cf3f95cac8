// Package server exposes the question and metrics operations of a
// finrag.Engine over HTTP.
//
// Every response is a JSON envelope:
//
//	{"success": true, "data": ...}
//	{"success": false, "error": "..."}
//
// Routes:
//
//	POST /api/question                  ask a question
//	GET  /api/metrics                   running metrics summary
//	GET  /api/metrics/{conversation_id} summary of one conversation
//	POST /api/metrics/reset             clear metrics
//	GET  /health                        liveness
package server
