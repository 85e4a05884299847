package turso

import (
	"context"
	"errors"
	"testing"
)

func TestIsLocal(t *testing.T) {
	tests := map[string]bool{
		"file:/tmp/splitd.db":      true,
		"file:splitd.db":           true,
		"libsql://splitd.turso.io": false,
		"https://splitd.turso.io":  false,
	}
	for url, want := range tests {
		if got := IsLocal(url); got != want {
			t.Errorf("IsLocal(%q) = %v, want %v", url, got, want)
		}
	}
}

func TestNewDB_RequiresURL(t *testing.T) {
	if _, err := NewDB("", ""); err == nil {
		t.Error("expected error for empty URL")
	}
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()

	calls := 0
	got, err := WithRetry(ctx, 2, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("hrana: stream not found")
		}
		return 7, nil
	})
	if err != nil || got != 7 || calls != 3 {
		t.Errorf("expected success on third call, got %d, %v after %d calls", got, err, calls)
	}

	calls = 0
	_, err = WithRetry(ctx, 5, func() (int, error) {
		calls++
		return 0, errors.New("syntax error")
	})
	if err == nil || calls != 1 {
		t.Errorf("expected no retry for other errors, got %d calls", calls)
	}

	calls = 0
	_, err = WithRetry(ctx, 1, func() (int, error) {
		calls++
		return 0, errors.New("stream not found")
	})
	if !IsStreamError(err) || calls != 2 {
		t.Errorf("expected stream error after 2 calls, got %v after %d", err, calls)
	}
}
