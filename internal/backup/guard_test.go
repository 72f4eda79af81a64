package backup

import (
	"errors"
	"strings"
	"testing"
)

func testGuard() CapacityGuard {
	return CapacityGuard{BufferMB: DefaultSafetyBufferMB, WorkingFactor: DefaultWorkingFactor}
}

func TestCapacityGuardRequiredSpace(t *testing.T) {
	if got := testGuard().RequiredSpace(512); got != 2048 {
		t.Errorf("RequiredSpace(512) = %v, want 2048", got)
	}
	if got := testGuard().DestinationSpace(512); got != 1536 {
		t.Errorf("DestinationSpace(512) = %v, want 1536", got)
	}
}

func TestCapacityGuardAuthorize(t *testing.T) {
	g := testGuard()
	required := g.RequiredSpace(512)

	tests := []struct {
		name          string
		vol           CapacityReport
		wantOK        bool
		wantShortfall float64
	}{
		{name: "short by 1048", vol: CapacityReport{Path: "/home", FreeMB: 1000}, wantOK: false, wantShortfall: 1048},
		{name: "plenty of room", vol: CapacityReport{Path: "/home", FreeMB: 3000}, wantOK: true},
		{name: "exact fit", vol: CapacityReport{Path: "/home", FreeMB: 2048}, wantOK: true},
		{name: "unbounded", vol: CapacityReport{Path: "s3://bucket", Unbounded: true}, wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := g.Authorize("alice", required, tt.vol)
			if entry.Authorized != tt.wantOK {
				t.Fatalf("Authorized = %v, want %v", entry.Authorized, tt.wantOK)
			}
			if entry.ShortfallMB != tt.wantShortfall {
				t.Errorf("ShortfallMB = %v, want %v", entry.ShortfallMB, tt.wantShortfall)
			}
			if !tt.wantOK && !strings.Contains(entry.DenialReason, "1048") {
				t.Errorf("denial reason should name the shortfall: %q", entry.DenialReason)
			}
			if tt.wantOK && entry.DenialReason != "" {
				t.Errorf("unexpected denial reason %q", entry.DenialReason)
			}
		})
	}
}

func TestCapacityGuardUnavailable(t *testing.T) {
	entry := testGuard().Unavailable("alice", "/home", 2048, errors.New("stat /home: no such file"))
	if entry.Authorized {
		t.Fatal("unavailable volume must deny")
	}
	if entry.VolumeErr == "" || entry.DenialReason == "" {
		t.Errorf("expected volume error and reason, got %+v", entry)
	}
}

func TestCapacityGuardSizeFor(t *testing.T) {
	est := Estimate([]Account{
		{ID: "big", UsedRaw: "700M", HasUsage: true},
		{ID: "unknown"},
	})
	unknown, _ := est.Lookup("unknown")
	big, _ := est.Lookup("big")

	g := testGuard()
	if size, known := g.SizeFor(big, est); size != 700 || !known {
		t.Errorf("SizeFor(big) = %v, %v", size, known)
	}
	if size, known := g.SizeFor(unknown, est); size != 700 || known {
		t.Errorf("SizeFor(unknown) without default = %v, %v; want largest known", size, known)
	}

	g.UnknownSizeMB = 5000
	if size, _ := g.SizeFor(unknown, est); size != 5000 {
		t.Errorf("SizeFor(unknown) with default = %v, want 5000", size)
	}
}
