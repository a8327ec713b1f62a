// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package procgroup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyExit(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		hadCode bool
		want    ExitReason
	}{
		{name: "normal", code: 0, hadCode: true, want: ExitReason{Cause: CauseNormal}},
		{name: "port conflict", code: 1, hadCode: true, want: ExitReason{Cause: CauseApplicationError, Code: 1}},
		{name: "application error", code: 255, hadCode: true, want: ExitReason{Cause: CauseApplicationError, Code: 255}},
		{name: "signalled", code: -1, hadCode: false, want: ExitReason{Cause: CauseKilledExternally}},
		{name: "negative code", code: -7, hadCode: true, want: ExitReason{Cause: CauseUnknown, Code: -7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyExit(tt.code, tt.hadCode))
		})
	}
}

func TestNewExitStatus(t *testing.T) {
	st := NewExitStatus(0, true)
	assert.True(t, st.Success())
	assert.Equal(t, "exited normally", st.Message)

	st = NewExitStatus(1, true)
	assert.False(t, st.Success())
	assert.Contains(t, st.Message, "port may already be in use")

	st = NewExitStatus(42, true)
	assert.Equal(t, "exited with errno=42", st.Message)

	st = NewExitStatus(-1, false)
	assert.Equal(t, ExitCodeInterrupted, st.Code)
	assert.Equal(t, CauseKilledExternally, st.Reason.Cause)
	assert.Equal(t, "terminated by signal", st.Message)
}

func TestExitCauseString(t *testing.T) {
	assert.Equal(t, "normal", CauseNormal.String())
	assert.Equal(t, "application_error", CauseApplicationError.String())
	assert.Equal(t, "killed_externally", CauseKilledExternally.String())
	assert.Equal(t, "unknown", CauseUnknown.String())
}
