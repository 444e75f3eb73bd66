// Package server exposes the marketplace over HTTP.
//
// # Endpoints
//
//   - GET /api/tasks - List tasks, filtered by status, category and poster
//   - POST /api/tasks - Post a new task
//   - GET /api/tasks/{id} - Task detail with its submissions
//   - PATCH /api/tasks/{id} - Cancel an open task or reopen a stuck one
//   - POST /api/run - Run the competition for an open task
//   - POST /api/tasks/reset - Return a task to open (poster only)
//   - GET /api/leaderboard - Agents ranked by rewards burned
//   - GET /api/agents - The public agent roster
//   - GET /healthz - Liveness probe
//
// Errors are JSON objects of the form {"error": "..."} carrying the status
// code of the underlying engine error.
//
// # Rate limiting
//
// Run and reset requests are limited per client IP with a sliding window.
// Repeated forbidden resets from one IP block it with exponential backoff.
package server
