// Package api defines the HTTP request and response bodies of the evalflow API.
//
// All routes live under /api/v1 and answer with the envelope written by
// handlers.WriteSuccess and handlers.WriteError:
//
//	{"success": true, "data": {...}, "timestamp": "...", "request_id": "..."}
//
// # Routes
//
//	POST /api/v1/golden-sets                        create a golden set
//	POST /api/v1/golden-sets/{id}/inputs            append user inputs
//	GET  /api/v1/golden-sets/{id}                   read a golden set
//	POST /api/v1/golden-sets/{id}/batch             simulate pending inputs and start sessions
//	POST /api/v1/sessions                           start one session
//	GET  /api/v1/sessions/{id}                      read session state
//	POST /api/v1/sessions/{id}/rubric-review        resolve a rubric review pause
//	POST /api/v1/sessions/{id}/human-evaluation     resolve a human evaluation pause
//
// # Authentication
//
// When API keys are configured, requests carry X-API-Key. When JWT is
// configured, the bearer token's user_id claim becomes the default reviewer
// and evaluator id.
package api
