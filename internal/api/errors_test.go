/*
Copyright (C) 2026 Duodeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/duodeck/duodeck/internal/playback"
)

func TestStatusForCode(t *testing.T) {
	cases := []struct {
		code playback.Code
		want int
	}{
		{playback.CodeThrottled, 429},
		{playback.CodeSkipInProgress, 409},
		{playback.CodeCrossfadeInProgress, 409},
		{playback.CodeQueueEmpty, 409},
		{playback.CodeQueueFull, 409},
		{playback.CodeOperationTimeout, 504},
		{playback.CodeBufferTimeout, 504},
		{playback.CodeMixerDead, 503},
		{playback.CodeMixerStartFailed, 503},
		{playback.CodeStreamUnplayable, 422},
		{playback.CodeGuildGone, 404},
		{playback.CodeInvalidIndex, 400},
		{playback.CodePersistenceError, 500},
	}
	for _, tc := range cases {
		if got := statusForCode(tc.code); got != tc.want {
			t.Errorf("statusForCode(%s) = %d, want %d", tc.code, got, tc.want)
		}
	}
}

func TestWriteError_PlaybackErrorUsesTaxonomyStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, &playback.Error{Code: playback.CodeGuildGone, GuildID: "g1", Op: "get_session"})

	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Code != string(playback.CodeGuildGone) {
		t.Errorf("code = %q, want %q", body.Code, playback.CodeGuildGone)
	}
}

func TestWriteError_PlainErrorIs500(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errUnexpected)

	if rec.Code != 500 {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

var errUnexpected = plainError("boom")

type plainError string

func (e plainError) Error() string { return string(e) }
