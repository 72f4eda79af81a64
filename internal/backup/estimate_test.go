package backup

import (
	"reflect"
	"testing"
)

func TestEstimate(t *testing.T) {
	est := Estimate([]Account{
		{ID: "a", UsedRaw: "100M", HasUsage: true},
		{ID: "b", UsedRaw: "300M", HasUsage: true},
		{ID: "c", UsedRaw: "50M", HasUsage: true},
	})

	if est.TotalMB != 450 {
		t.Errorf("TotalMB = %v, want 450", est.TotalMB)
	}
	if est.Biggest != (AccountSize{AccountID: "b", MB: 300}) {
		t.Errorf("Biggest = %+v, want b/300", est.Biggest)
	}
	if len(est.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", est.Warnings)
	}
}

func TestEstimateTieKeepsFirst(t *testing.T) {
	est := Estimate([]Account{
		{ID: "first", UsedRaw: "1G", HasUsage: true},
		{ID: "second", UsedRaw: "1024M", HasUsage: true},
	})
	if est.Biggest.AccountID != "first" {
		t.Errorf("Biggest = %s, want first", est.Biggest.AccountID)
	}
}

func TestEstimateUnknownSizes(t *testing.T) {
	est := Estimate([]Account{
		{ID: "a", UsedRaw: "10M", HasUsage: true},
		{ID: "missing", HasUsage: false},
		{ID: "odd", UsedRaw: "7X", HasUsage: true},
	})

	if est.TotalMB != 10 {
		t.Errorf("TotalMB = %v, want 10", est.TotalMB)
	}
	if est.Biggest.AccountID != "a" {
		t.Errorf("Biggest = %s, want a", est.Biggest.AccountID)
	}
	if len(est.Accounts) != 3 {
		t.Fatalf("every account must stay listed, got %d", len(est.Accounts))
	}
	if got := est.Unknown(); !reflect.DeepEqual(got, []string{"missing", "odd"}) {
		t.Errorf("Unknown() = %v", got)
	}
	if len(est.Warnings) != 2 {
		t.Errorf("expected two warnings, got %v", est.Warnings)
	}

	ae, ok := est.Lookup("missing")
	if !ok || ae.Usage.Provenance != ProvenanceMissing {
		t.Errorf("Lookup(missing) = %+v, %v", ae, ok)
	}
	ae, ok = est.Lookup("odd")
	if !ok || ae.Usage.Provenance != ProvenanceUnrecognizedUnit {
		t.Errorf("Lookup(odd) = %+v, %v", ae, ok)
	}
}

func TestEstimateEmpty(t *testing.T) {
	est := Estimate(nil)
	if est.TotalMB != 0 || est.Biggest.AccountID != "" {
		t.Errorf("empty estimate = %+v", est)
	}
}
