// Package handler implements the node's HTTP status API.
//
// Routes:
//
//	GET  /api/status                          discovery engine state
//	GET  /api/devices                         device table
//	GET  /api/devices/{id}                    one device
//	GET  /api/devices/{id}/credential         cached verification, if any
//	POST /api/devices/{id}/credential/request ask the device for its credential
//
// Errors are returned as JSON with {error, details}. Verification outcomes
// arrive asynchronously on the /events stream, never in the POST response.
package handler
