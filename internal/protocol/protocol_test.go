package protocol_test

import (
	"testing"

	"github.com/shellring/shellring/internal/protocol"
)

func TestDefaultWinsize(t *testing.T) {
	ws := protocol.DefaultWinsize()
	if ws.X != 0 || ws.Y != 0 {
		t.Fatalf("expected default window at origin, got (%d, %d)", ws.X, ws.Y)
	}
	if ws.Rows != 24 || ws.Cols != 80 {
		t.Fatalf("expected 80x24 default size, got %dx%d", ws.Cols, ws.Rows)
	}
}

func TestRandomWinsizeBounds(t *testing.T) {
	seenMinX, seenMaxX := false, false
	seenMinY, seenMaxY := false, false

	// Enough draws to hit every position with overwhelming probability;
	// the boundary checks below only require at least one hit each.
	for i := 0; i < 100000; i++ {
		ws := protocol.RandomWinsize()
		if ws.X < -50 || ws.X > 50 {
			t.Fatalf("x out of range: %d", ws.X)
		}
		if ws.Y < -30 || ws.Y > 30 {
			t.Fatalf("y out of range: %d", ws.Y)
		}
		if ws.Rows != 24 || ws.Cols != 80 {
			t.Fatalf("expected default size, got %dx%d", ws.Cols, ws.Rows)
		}
		switch ws.X {
		case -50:
			seenMinX = true
		case 50:
			seenMaxX = true
		}
		switch ws.Y {
		case -30:
			seenMinY = true
		case 30:
			seenMaxY = true
		}
	}

	if !seenMinX || !seenMaxX {
		t.Fatalf("x boundaries not inclusive: min=%v max=%v", seenMinX, seenMaxX)
	}
	if !seenMinY || !seenMaxY {
		t.Fatalf("y boundaries not inclusive: min=%v max=%v", seenMinY, seenMaxY)
	}
}
