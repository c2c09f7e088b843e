package apicache

import (
	"errors"
	"testing"
)

func TestMultiHooksFansOut(t *testing.T) {
	a, b := &recordingHooks{}, &recordingHooks{}
	m := MultiHooks{a, b, NopHooks{}}

	m.SelfHeal("k", "corrupt_frame")
	m.EntryCollected("k")
	m.AuthFailure("getStation", "TOKEN_EXPIRED")
	m.StorageError("get", "k", errors.New("down"))

	for _, h := range []*recordingHooks{a, b} {
		if len(h.selfHeals) != 1 || h.selfHeals[0] != "corrupt_frame" {
			t.Fatalf("selfHeals = %v", h.selfHeals)
		}
		if len(h.collected) != 1 || h.authFailed != 1 {
			t.Fatalf("collected=%v authFailed=%d", h.collected, h.authFailed)
		}
	}
}
