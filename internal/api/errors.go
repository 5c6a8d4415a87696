/*
Copyright (C) 2026 Duodeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/duodeck/duodeck/internal/playback"
)

// errorResponse is the JSON body written for every non-2xx control response.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// statusForCode maps the playback error taxonomy onto HTTP status codes.
func statusForCode(code playback.Code) int {
	switch code {
	case playback.CodeThrottled:
		return http.StatusTooManyRequests
	case playback.CodeSkipInProgress, playback.CodeCrossfadeInProgress, playback.CodeQueueEmpty, playback.CodeQueueFull:
		return http.StatusConflict
	case playback.CodeOperationTimeout, playback.CodeBufferTimeout:
		return http.StatusGatewayTimeout
	case playback.CodeMixerDead, playback.CodeMixerStartFailed:
		return http.StatusServiceUnavailable
	case playback.CodeStreamUnplayable:
		return http.StatusUnprocessableEntity
	case playback.CodeGuildGone:
		return http.StatusNotFound
	case playback.CodeInvalidIndex:
		return http.StatusBadRequest
	case playback.CodePersistenceError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as a JSON body, using the playback error taxonomy's
// status mapping when err carries one and 500 otherwise.
func writeError(w http.ResponseWriter, err error) {
	var perr *playback.Error
	if errors.As(err, &perr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusForCode(perr.Code))
		_ = json.NewEncoder(w).Encode(errorResponse{Error: perr.Error(), Code: string(perr.Code)})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
