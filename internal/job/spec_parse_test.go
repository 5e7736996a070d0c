package job

import "testing"

func TestParseSpan(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    Span
		wantErr bool
	}{
		{in: "500ms", want: Millis(500)},
		{in: "30s", want: Seconds(30)},
		{in: "45sec", want: Seconds(45)},
		{in: "15m", want: Minutes(15)},
		{in: "10 min", want: Minutes(10)},
		{in: "2H", want: Hours(2)},
		{in: "1d", want: Days(1)},
		{in: "2w", want: Weeks(2)},
		{in: "1mo", want: Months(1)},
		{in: "1y", want: Years(1)},
		{in: "02:30", want: Minutes(150)},
		{in: "0", want: Seconds(0)},
		{in: "", wantErr: true},
		{in: "5", wantErr: true},
		{in: "1x", wantErr: true},
		{in: "-1d", wantErr: true},
		{in: "01:75", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseSpan(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseSpan(%q) = %v, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseSpan(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseSpan(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseIntervalAndOffset(t *testing.T) {
	t.Parallel()
	if _, err := ParseInterval("0"); err == nil {
		t.Fatal("ParseInterval(0) should fail")
	}
	if sp, err := ParseInterval("1d"); err != nil || sp != Days(1) {
		t.Fatalf("ParseInterval(1d) = %v, %v", sp, err)
	}
	if sp, err := ParseOffset(""); err != nil || sp != Seconds(0) {
		t.Fatalf("ParseOffset(\"\") = %v, %v", sp, err)
	}
	if sp, err := ParseOffset("02:00"); err != nil || sp != Minutes(120) {
		t.Fatalf("ParseOffset(02:00) = %v, %v", sp, err)
	}
}
