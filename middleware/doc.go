// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package middleware provides HTTP middleware and response helpers.

# Logging

WithLogging logs request start and completion with status and duration:

	mux.HandleFunc("POST /elections", middleware.WithLogging(handler.CreateElection))

# CORS

CORS wraps the whole mux with github.com/rs/cors. Any origin is allowed and
the X-Admin-Key header may be sent cross-origin.

# Requests

ParseAndValidate decodes a JSON body and applies the struct's validate tags.
Its error message names fields by their JSON names and is safe to return
to clients.

# Responses

	middleware.JSONResponse(w, http.StatusOK, data)
	middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
	middleware.DomainError(w, err)

DomainError derives the status from the models.ErrorKind of err. Errors that
are not domain errors become a 500 without detail.
*/
package middleware
