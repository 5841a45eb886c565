package money

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		err  bool
	}{
		{"15.00", 1500, false},
		{"20", 2000, false},
		{"12.5", 1250, false},
		{"0.05", 5, false},
		{"-0.50", -50, false},
		{".99", 99, false},
		{"", 0, true},
		{"1.234", 0, true},
		{"abc", 0, true},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		if tc.err {
			if err == nil {
				t.Fatalf("Parse(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.in, err)
		}
		if got.Minor() != tc.want {
			t.Fatalf("Parse(%q) = %d, want %d", tc.in, got.Minor(), tc.want)
		}
	}
}

func TestString(t *testing.T) {
	if got := FromMinor(1500).String(); got != "15.00" {
		t.Fatalf("got %s", got)
	}
	if got := FromMinor(-50).String(); got != "-0.50" {
		t.Fatalf("got %s", got)
	}
	if got := FromMinor(5).String(); got != "0.05" {
		t.Fatalf("got %s", got)
	}
}

func TestArithmetic(t *testing.T) {
	balance := FromMinor(2000)
	toll := FromMinor(1500)
	after := balance.Sub(toll)
	if after.Minor() != 500 {
		t.Fatalf("expected 500, got %d", after.Minor())
	}
	if after.Add(toll) != balance {
		t.Fatalf("add/sub not symmetric")
	}
	if !toll.IsPositive() || toll.Neg().IsPositive() {
		t.Fatalf("sign checks failed")
	}
}
