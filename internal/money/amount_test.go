package money

import (
	"encoding/json"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1234.56", "1234.56"},
		{"1,234.56", "1234.56"},
		{"1.234,56", "1234.56"},
		{"1234,56", "1234.56"},
		{"R$ 20.304,03", "20304.03"},
		{"1.234.567", "1234567.00"},
		{"-15.5", "-15.50"},
		{"10.0051", "10.01"},
		{"1,234", "1234.00"},
		{"1.234", "1234.00"},
		{"-1.234", "-1234.00"},
		{"R$ 1.234", "1234.00"},
		{"1,234,567", "1234567.00"},
		{"0.500", "0.50"},
		{"0,125", "0.13"},
		{"1,5", "1.50"},
		{"12.50", "12.50"},
		{"1,2345", "1.23"},
		{"", "0.00"},
		{"abc", "0.00"},
		{"--", "0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Parse(tt.in).String(); got != tt.want {
				t.Errorf("Parse(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestArithmeticHasNoFloatDrift(t *testing.T) {
	total := Zero
	for i := 0; i < 10; i++ {
		total = total.Add(MustParse("0.10"))
	}
	if !total.Equal(MustParse("1.00")) {
		t.Errorf("ten times 0.10 = %s, want 1.00", total)
	}
	if got := MustParse("0.30").Sub(MustParse("0.10")).Sub(MustParse("0.20")); !got.IsZero() {
		t.Errorf("0.30 - 0.10 - 0.20 = %s, want 0.00", got)
	}
}

func TestCentsAndFormat(t *testing.T) {
	a := MustParse("1234.56")
	if a.Cents() != 123456 {
		t.Errorf("Cents() = %d, want 123456", a.Cents())
	}
	if !FromCents(123456).Equal(a) {
		t.Errorf("FromCents(123456) = %s", FromCents(123456))
	}
	if got := FromCents(1050).Format("USD"); got != "$10.50" {
		t.Errorf("Format(USD) = %q, want $10.50", got)
	}
}

func TestJSON(t *testing.T) {
	var v struct {
		A Amount `json:"a"`
		B Amount `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a": 12.5, "b": "1.000,25"}`), &v); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if v.A.String() != "12.50" || v.B.String() != "1000.25" {
		t.Errorf("decoded a=%s b=%s", v.A, v.B)
	}
	out, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != `{"a":"12.50","b":"1000.25"}` {
		t.Errorf("Marshal() = %s", out)
	}
}

func TestSum(t *testing.T) {
	got := Sum(MustParse("33.33"), MustParse("33.33"), MustParse("33.34"))
	if !got.Equal(MustParse("100")) {
		t.Errorf("Sum = %s, want 100.00", got)
	}
}
