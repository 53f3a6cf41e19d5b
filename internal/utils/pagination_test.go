package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		s    string
		def  int
		want int
	}{
		{"", 10, 10},
		{"42", 0, 42},
		{"-13", 1, -13},
		{"0012", 99, 12},
		{"x", 5, 5},
		{" 42", 7, 7},
		{"999999999999999999999999", -1, -1},
	}
	for _, tc := range cases {
		if got := AtoiDefault(tc.s, tc.def); got != tc.want {
			t.Fatalf("AtoiDefault(%q, %d) = %d; want %d", tc.s, tc.def, got, tc.want)
		}
	}
}

func TestParsePage(t *testing.T) {
	cases := []struct {
		number, size string
		want         Page
	}{
		{"", "", Page{1, DefaultPageSize}},
		{"0", "0", Page{1, DefaultPageSize}},
		{"-3", "5", Page{1, 5}},
		{"4", "500", Page{4, MaxPageSize}},
		{"x", "y", Page{1, DefaultPageSize}},
	}
	for _, tc := range cases {
		if got := ParsePage(tc.number, tc.size); got != tc.want {
			t.Fatalf("ParsePage(%q, %q) = %+v; want %+v", tc.number, tc.size, got, tc.want)
		}
	}
	if got := NewPage(1, 80, 50); got.Size != 50 {
		t.Fatalf("custom max ignored: %+v", got)
	}
}

func TestPageMath(t *testing.T) {
	p := Page{Number: 3, Size: 10}
	if p.Offset() != 20 {
		t.Fatalf("offset = %d", p.Offset())
	}
	if p.TotalPages(25) != 3 || p.HasNext(25) {
		t.Fatalf("last page: total=%d next=%v", p.TotalPages(25), p.HasNext(25))
	}
	if !(Page{Number: 2, Size: 10}).HasNext(25) {
		t.Fatalf("page 2 of 3 must have next")
	}
	if p.TotalPages(0) != 0 || p.HasNext(0) {
		t.Fatalf("empty result")
	}
}
