package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
)

func TestWrapDBError(t *testing.T) {
	tests := []struct {
		name      string
		op        string
		err       error
		wantNil   bool
		wantError string
		wantType  error
	}{
		{name: "nil error returns nil", op: "test operation", err: nil, wantNil: true},
		{
			name:      "sql.ErrNoRows converted to ErrNotFound",
			op:        "get update",
			err:       sql.ErrNoRows,
			wantError: "get update: not found",
			wantType:  ErrNotFound,
		},
		{
			name:      "generic error wrapped with context",
			op:        "update processed row",
			err:       errors.New("database locked"),
			wantError: "update processed row: database locked",
		},
		{
			name:      "already wrapped error preserved",
			op:        "insert mapping",
			err:       fmt.Errorf("constraint violation: %w", ErrConflict),
			wantError: "insert mapping: constraint violation: conflict",
			wantType:  ErrConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := wrapDBError(tt.op, tt.err)
			if tt.wantNil {
				if result != nil {
					t.Errorf("wrapDBError() = %v, want nil", result)
				}
				return
			}
			if result == nil {
				t.Fatal("wrapDBError() returned nil, want error")
			}
			if tt.wantError != "" && result.Error() != tt.wantError {
				t.Errorf("wrapDBError() error = %q, want %q", result.Error(), tt.wantError)
			}
			if tt.wantType != nil && !errors.Is(result, tt.wantType) {
				t.Errorf("wrapDBError() error doesn't wrap %v", tt.wantType)
			}
		})
	}
}

func TestWrapDBErrorf(t *testing.T) {
	result := wrapDBErrorf(sql.ErrNoRows, "normalise hash id for service %d", 7)
	if result == nil {
		t.Fatal("wrapDBErrorf() returned nil, want error")
	}
	want := "normalise hash id for service 7: not found"
	if result.Error() != want {
		t.Errorf("wrapDBErrorf() = %q, want %q", result.Error(), want)
	}
	if !errors.Is(result, ErrNotFound) {
		t.Error("wrapDBErrorf() didn't convert sql.ErrNoRows to ErrNotFound")
	}
	if wrapDBErrorf(nil, "anything") != nil {
		t.Error("wrapDBErrorf(nil, ...) should return nil")
	}
}

func TestIsNotFound(t *testing.T) {
	if !isNotFound(ErrNotFound) {
		t.Error("isNotFound(ErrNotFound) = false, want true")
	}
	if !isNotFound(fmt.Errorf("get update: %w", ErrNotFound)) {
		t.Error("isNotFound() should see through wrapping")
	}
	if isNotFound(errors.New("unrelated")) {
		t.Error("isNotFound() = true for unrelated error, want false")
	}
}

func TestCriticalRepositoryDefinitionError(t *testing.T) {
	err := &CriticalRepositoryDefinition{ServiceID: 3, Kind: "hash_id", BadIDs: []int64{100, 101}}
	msg := err.Error()
	if msg == "" {
		t.Fatal("CriticalRepositoryDefinition.Error() returned empty string")
	}
}
