// Package api exposes the REST surface for compiling natural language
// intents into transaction plans and tracking asynchronous submissions.
// It also serves health and Prometheus metrics endpoints.
package api
