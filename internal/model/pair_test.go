package model

import "testing"

func TestEncodePairCanonical(t *testing.T) {
	got, err := EncodePair("ordi", "sats")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "4/ordisats" {
		t.Fatalf("EncodePair = %q, want 4/ordisats", got)
	}

	// Order-insensitive.
	rev, err := EncodePair("sats", "ordi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rev != got {
		t.Fatalf("EncodePair not symmetric: %q vs %q", got, rev)
	}
}

func TestDecodePairRoundTrip(t *testing.T) {
	cases := [][2]string{
		{"ordi", "sats"},
		{"a", "bb"},
		{"longtickname", "z"},
	}
	for _, tc := range cases {
		enc, err := EncodePair(tc[0], tc[1])
		if err != nil {
			t.Fatalf("encode %v: %v", tc, err)
		}
		t0, t1, err := DecodePair(enc)
		if err != nil {
			t.Fatalf("decode %q: %v", enc, err)
		}
		w0, w1, _ := SortTicks(tc[0], tc[1])
		if t0 != w0 || t1 != w1 {
			t.Fatalf("decode %q = (%q,%q), want (%q,%q)", enc, t0, t1, w0, w1)
		}
	}
}

func TestDecodePairLegacy(t *testing.T) {
	t0, t1, swapped, err := DecodePairSides("sats/ordi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if t0 != "ordi" || t1 != "sats" || !swapped {
		t.Fatalf("legacy decode = (%q,%q,%v), want (ordi,sats,true)", t0, t1, swapped)
	}
}

func TestDecodePairInvalid(t *testing.T) {
	for _, s := range []string{"", "/", "abc", "a/", "/b", "x/x"} {
		if _, _, err := DecodePair(s); err == nil {
			t.Fatalf("expected error for %q", s)
		}
	}
}

func TestEncodePairRejects(t *testing.T) {
	if _, err := EncodePair("ordi", "ordi"); err == nil {
		t.Fatalf("expected error for identical ticks")
	}
	if _, err := EncodePair("", "sats"); err == nil {
		t.Fatalf("expected error for empty tick")
	}
}

func TestFuncParamDecode(t *testing.T) {
	f := &InternalFunc{
		Kind:   FuncAddLiq,
		Params: []string{"4/ordisats", "100", "200", "10", "5"},
	}
	p, err := f.AddLiq()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Tick0 != "ordi" || p.Tick1 != "sats" || p.Amount0 != "100" || p.Amount1 != "200" {
		t.Fatalf("decoded = %+v", p)
	}

	// Legacy unsorted pair re-orders the sides with the ticks.
	f = &InternalFunc{
		Kind:   FuncAddLiq,
		Params: []string{"sats/ordi", "100", "200", "10", "5"},
	}
	p, err = f.AddLiq()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Tick0 != "ordi" || p.Amount0 != "200" || p.Amount1 != "100" {
		t.Fatalf("legacy side sort failed: %+v", p)
	}
}

func TestSwapParamDecode(t *testing.T) {
	f := &InternalFunc{
		Kind:   FuncSwap,
		Params: []string{"4/ordisats", "ordi", "1000", ExactIn, "990", "5"},
	}
	p, err := f.Swap()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Tick != "ordi" || p.ExactType != ExactIn {
		t.Fatalf("decoded = %+v", p)
	}

	f.Params[1] = "pepe"
	if _, err := f.Swap(); err == nil {
		t.Fatalf("expected error for tick outside pair")
	}
	f.Params[1] = "ordi"
	f.Params[3] = "exactBoth"
	if _, err := f.Swap(); err == nil {
		t.Fatalf("expected error for unknown exact type")
	}
}

func TestParamCountChecked(t *testing.T) {
	f := &InternalFunc{Kind: FuncSend, Params: []string{"to", "tick"}}
	if _, err := f.Send(); err == nil {
		t.Fatalf("expected error for short params")
	}
}
