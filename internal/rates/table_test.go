package rates

import (
	"context"
	"testing"
)

const sampleTable = `
default: "10.00"
checkpoints:
  checkpoint-a:
    default: "15.00"
    commercial: "20.00"
    heavy: "25.00"
  checkpoint-b:
    passenger: "12.50"
`

func TestTable_RateFor(t *testing.T) {
	table, err := ParseTable([]byte(sampleTable))
	if err != nil {
		t.Fatalf("parse table: %v", err)
	}
	ctx := context.Background()

	cases := []struct {
		checkpoint  string
		vehicleType string
		want        int64
	}{
		{"checkpoint-a", "commercial", 2000},
		{"checkpoint-a", "heavy", 2500},
		{"checkpoint-a", "passenger", 1500},
		{"checkpoint-b", "passenger", 1250},
		{"checkpoint-b", "heavy", 1000},
		{"checkpoint-c", "passenger", 1000},
	}
	for _, tc := range cases {
		got, err := table.RateFor(ctx, tc.checkpoint, tc.vehicleType)
		if err != nil {
			t.Fatalf("RateFor(%s,%s): %v", tc.checkpoint, tc.vehicleType, err)
		}
		if got.Minor() != tc.want {
			t.Fatalf("RateFor(%s,%s) = %d, want %d", tc.checkpoint, tc.vehicleType, got.Minor(), tc.want)
		}
	}
}

func TestTable_NoRate(t *testing.T) {
	table, err := ParseTable([]byte(`checkpoints: {checkpoint-a: {passenger: "5.00"}}`))
	if err != nil {
		t.Fatalf("parse table: %v", err)
	}
	if _, err := table.RateFor(context.Background(), "checkpoint-x", "passenger"); err != ErrNoRate {
		t.Fatalf("expected ErrNoRate, got %v", err)
	}
}

func TestTable_RejectsBadRates(t *testing.T) {
	if _, err := ParseTable([]byte(`default: "abc"`)); err == nil {
		t.Fatalf("expected parse error for non-numeric rate")
	}
	if _, err := ParseTable([]byte(`default: "-1.00"`)); err == nil {
		t.Fatalf("expected parse error for negative rate")
	}
}

func TestFixedProvider(t *testing.T) {
	if _, err := NewFixedProvider(0); err == nil {
		t.Fatalf("expected error for zero rate")
	}
	provider, err := NewFixedProvider(1500)
	if err != nil {
		t.Fatalf("new fixed provider: %v", err)
	}
	rate, err := provider.RateFor(context.Background(), "any", "any")
	if err != nil || rate.Minor() != 1500 {
		t.Fatalf("got %d, %v", rate.Minor(), err)
	}
}
