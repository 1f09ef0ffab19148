package performance

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/osu-rework/performance-service/service/apperrors"
)

// testBeatmap builds a minimal valid .osu file with n circles spaced 500ms apart.
func testBeatmap(n int) []byte {
	var sb strings.Builder
	sb.WriteString("osu file format v14\n\n")
	sb.WriteString("[General]\nMode: 0\n\n")
	sb.WriteString("[Difficulty]\nHPDrainRate:5\nCircleSize:4\nOverallDifficulty:8\nApproachRate:9\nSliderMultiplier:1.4\n\n")
	sb.WriteString("[HitObjects]\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "%d,%d,%d,1,0,0:0:0:0:\n", 100+i%400, 100+i%300, i*500)
	}
	return []byte(sb.String())
}

func TestParseBeatmap(t *testing.T) {
	bm, err := ParseBeatmap(testBeatmap(200))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if bm.Circles != 200 {
		t.Fatalf("expected 200 circles, got %d", bm.Circles)
	}
	if bm.AR != 9 || bm.OD != 8 {
		t.Fatalf("difficulty settings not parsed: AR=%v OD=%v", bm.AR, bm.OD)
	}
	if bm.DrainSeconds < 99 || bm.DrainSeconds > 100 {
		t.Fatalf("unexpected drain %v", bm.DrainSeconds)
	}
}

func TestParseBeatmapRejectsGarbage(t *testing.T) {
	for name, raw := range map[string][]byte{
		"empty":      {},
		"no header":  []byte("[HitObjects]\n100,100,0,1,0\n"),
		"no objects": []byte("osu file format v14\n[HitObjects]\n"),
	} {
		if _, err := ParseBeatmap(raw); err == nil {
			t.Errorf("%s: expected parse error", name)
		}
	}
}

func TestCalculateSanitized(t *testing.T) {
	calc := Live()
	attrs, err := calc.Calculate(testBeatmap(300), ScoreParams{
		Mode: 0, Mods: 0, MaxCombo: 300, Count300: 295, Count100: 4, Count50: 0, Misses: 1,
	})
	if err != nil {
		t.Fatalf("calculate failed: %v", err)
	}

	for name, v := range map[string]float64{"pp": attrs.PP, "stars": attrs.Stars} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("%s not finite: %v", name, v)
		}
		if v < 0 {
			t.Fatalf("%s negative: %v", name, v)
		}
		if math.Round(v*100)/100 != v {
			t.Fatalf("%s not rounded to 2 decimals: %v", name, v)
		}
	}
	if attrs.PP == 0 {
		t.Fatal("expected non-zero pp for a near-full-combo play")
	}
}

func TestCalculateRejectsUnparseableBeatmap(t *testing.T) {
	_, err := Live().Calculate([]byte("not a beatmap"), ScoreParams{MaxCombo: 1})
	if apperrors.CodeOf(err) != apperrors.DependencyFailed {
		t.Fatalf("expected DependencyFailed, got %v", err)
	}
}

func TestMissesReducePP(t *testing.T) {
	bm := testBeatmap(400)
	full, err := Live().Calculate(bm, ScoreParams{MaxCombo: 400, Count300: 400})
	if err != nil {
		t.Fatal(err)
	}
	missed, err := Live().Calculate(bm, ScoreParams{MaxCombo: 250, Count300: 390, Misses: 10})
	if err != nil {
		t.Fatal(err)
	}
	if missed.PP >= full.PP {
		t.Fatalf("misses should lower pp: %v >= %v", missed.PP, full.PP)
	}
}

func TestVariantDispatch(t *testing.T) {
	if _, err := ForRework(999); apperrors.CodeOf(err) != apperrors.NotFound {
		t.Fatalf("expected NotFound for unknown rework, got %v", err)
	}

	calc, err := ForRework(ReworkRemoveAccuracy)
	if err != nil {
		t.Fatal(err)
	}
	if calc.Name() != "remove_accuracy_pp" {
		t.Fatalf("wrong variant %s", calc.Name())
	}
}

func TestRemoveAccuracyDropsAccValue(t *testing.T) {
	bm := testBeatmap(400)
	params := ScoreParams{MaxCombo: 400, Count300: 380, Count100: 20}

	withAcc, err := Live().Calculate(bm, params)
	if err != nil {
		t.Fatal(err)
	}
	noAcc, err := newVariant("test", func(tn *tuning) { tn.AccWeight = 0 }).Calculate(bm, params)
	if err != nil {
		t.Fatal(err)
	}
	if noAcc.PP >= withAcc.PP {
		t.Fatalf("removing accuracy pp should lower totals: %v >= %v", noAcc.PP, withAcc.PP)
	}
}

func TestForPlaySelectsRelaxVariant(t *testing.T) {
	if got := ForPlay(0, modRelax); got.Name() != "osu2019-relax" {
		t.Fatalf("relax on std should pick osu2019-relax, got %s", got.Name())
	}
	if got := ForPlay(1, modRelax); got.Name() != "live" {
		t.Fatalf("relax on taiko should stay on live, got %s", got.Name())
	}
	if got := ForPlay(0, 0); got.Name() != "live" {
		t.Fatalf("nomod should stay on live, got %s", got.Name())
	}
}

func TestDifficultyReuseAcrossScores(t *testing.T) {
	bm, err := ParseBeatmap(testBeatmap(300))
	if err != nil {
		t.Fatal(err)
	}
	d := NewDifficulty(bm, 0, modHardRock)

	tn := baseTuning()
	p1 := ScoreParams{Mods: modHardRock, MaxCombo: 300, Count300: 300}
	p2 := ScoreParams{Mods: modHardRock, MaxCombo: 100, Count300: 280, Count100: 15, Misses: 5}

	if tn.calculate(d, &p1) <= tn.calculate(d, &p2) {
		t.Fatal("better play should not score lower on shared difficulty")
	}
}

func TestRound2(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{1002.0834, 1002.08},
		{0, 0},
		{math.NaN(), 0},
		{math.Inf(1), 0},
		{math.Inf(-1), 0},
		{-5, 0},
		{123.456, 123.46},
	}
	for _, c := range cases {
		if got := Round2(c.in); got != c.want {
			t.Errorf("Round2(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
