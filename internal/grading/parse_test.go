package grading

import "testing"

func TestParseScoreTotalMaxOrder(t *testing.T) {
	mode := getDefaultGradingMode()
	result := `这是批改正文。
<score total="82" max="100"><dim name="立意" score="20" max="25">立意明确</dim><dim name="结构" score="22" max="25"></dim></score>`

	parsed := ParseScore(result, mode)
	if parsed == nil {
		t.Fatalf("ParseScore() = nil")
	}
	if parsed.Total != 82 || parsed.MaxTotal != 100 {
		t.Fatalf("parsed = %+v", parsed)
	}
	if parsed.Grade != "良好" {
		t.Fatalf("Grade = %q, want 良好", parsed.Grade)
	}
	if len(parsed.Dimensions) != 2 {
		t.Fatalf("Dimensions = %+v", parsed.Dimensions)
	}
}

func TestParseScoreMaxTotalOrder(t *testing.T) {
	mode := getDefaultGradingMode()
	result := `<score max="100" total="95"><dim name="立意" score="24" max="25">excellent</dim></score>`
	parsed := ParseScore(result, mode)
	if parsed == nil {
		t.Fatalf("ParseScore() = nil")
	}
	if parsed.Total != 95 || parsed.Grade != "优秀" {
		t.Fatalf("parsed = %+v", parsed)
	}
}

func TestParseScoreMissingBlockReturnsNil(t *testing.T) {
	mode := getDefaultGradingMode()
	if parsed := ParseScore("no score block here", mode); parsed != nil {
		t.Fatalf("ParseScore() = %+v, want nil", parsed)
	}
}

func TestParseScoreRejectsNonFiniteMax(t *testing.T) {
	mode := getDefaultGradingMode()
	result := `<score total="50" max="NaN"></score>`
	if parsed := ParseScore(result, mode); parsed != nil {
		t.Fatalf("ParseScore() = %+v, want nil for non-numeric max", parsed)
	}
}

func TestParseScoreClampsOutOfRangeTotal(t *testing.T) {
	mode := getDefaultGradingMode()
	result := `<score total="150" max="100"></score>`
	parsed := ParseScore(result, mode)
	if parsed == nil {
		t.Fatalf("ParseScore() = nil")
	}
	if parsed.Total != 100 {
		t.Fatalf("Total = %v, want clamped to mode max 100", parsed.Total)
	}
}

func TestParseScoreClampsNegativeTotal(t *testing.T) {
	mode := getDefaultGradingMode()
	result := `<score total="-5" max="100"></score>`
	parsed := ParseScore(result, mode)
	if parsed == nil || parsed.Total != 0 {
		t.Fatalf("parsed = %+v, want Total clamped to 0", parsed)
	}
}

func TestParseScoreSkipsInvalidDimension(t *testing.T) {
	mode := getDefaultGradingMode()
	result := `<score total="50" max="100"><dim name="bad" score="10" max="0">invalid max</dim><dim name="ok" score="5" max="10">fine</dim></score>`
	parsed := ParseScore(result, mode)
	if parsed == nil {
		t.Fatalf("ParseScore() = nil")
	}
	if len(parsed.Dimensions) != 1 || parsed.Dimensions[0].Name != "ok" {
		t.Fatalf("Dimensions = %+v, want only the valid one", parsed.Dimensions)
	}
}

func TestGradeBandBoundaries(t *testing.T) {
	cases := []struct {
		pct  float64
		want string
	}{
		{95, "优秀"}, {90, "优秀"}, {89.9, "良好"}, {75, "良好"}, {74.9, "及格"}, {60, "及格"}, {59.9, "不及格"}, {0, "不及格"},
	}
	for _, c := range cases {
		if got := gradeBand(c.pct); got != c.want {
			t.Fatalf("gradeBand(%v) = %q, want %q", c.pct, got, c.want)
		}
	}
}
