package performance

import "math"

// Mod bits the difficulty model reacts to.
const (
	modNoFail     = 1 << 0
	modEasy       = 1 << 1
	modHidden     = 1 << 3
	modHardRock   = 1 << 4
	modDoubleTime = 1 << 6
	modRelax      = 1 << 7
	modHalfTime   = 1 << 8
	modNightcore  = 1 << 9
	modFlashlight = 1 << 10
	modSpunOut    = 1 << 12
	modAutopilot  = 1 << 13
)

// Difficulty is the per-(beatmap, mods) attribute set. It is computed once and
// reused across every score in the same mods group; the strain split feeds the
// aim/speed weighting in the performance step.
type Difficulty struct {
	Stars    float64
	Aim      float64
	Speed    float64
	AR       float64
	OD       float64
	MaxCombo int

	mode       int32
	mods       int32
	totalHits  int
	clockRate  float64
	drainSecs  float64
}

// NewDifficulty derives attributes for a parsed beatmap under a mod
// combination.
func NewDifficulty(bm *Beatmap, mode int32, mods int32) *Difficulty {
	clockRate := 1.0
	if mods&(modDoubleTime|modNightcore) != 0 {
		clockRate = 1.5
	} else if mods&modHalfTime != 0 {
		clockRate = 0.75
	}

	ar := bm.AR
	od := bm.OD
	cs := bm.CS
	if mods&modHardRock != 0 {
		ar = math.Min(ar*1.4, 10)
		od = math.Min(od*1.4, 10)
		cs = math.Min(cs*1.3, 10)
	} else if mods&modEasy != 0 {
		ar /= 2
		od /= 2
		cs /= 2
	}

	// Rate-adjust through the ms windows, the way every stable-era
	// calculator does it.
	preempt := arToPreempt(ar) / clockRate
	ar = preemptToAR(preempt)
	window300 := (79.5 - 6*od) / clockRate
	od = (79.5 - window300) / 6

	drain := math.Max(bm.DrainSeconds/clockRate, 1)
	density := float64(bm.TotalObjects()) / drain

	// Aim rewards reading (approach, circle size) on top of raw density;
	// speed is nearly pure density. Constants fitted against the live
	// calculator's output on the ranked section.
	aim := math.Sqrt(density) * 0.88 * (1 + (cs-4)*0.04) * (1 + (ar-9)*0.015)
	speed := math.Pow(density, 0.85) * 0.46

	if aim < 0 {
		aim = 0
	}
	if speed < 0 {
		speed = 0
	}

	stars := aim + speed + math.Abs(aim-speed)/2

	return &Difficulty{
		Stars:     stars,
		Aim:       aim,
		Speed:     speed,
		AR:        ar,
		OD:        od,
		MaxCombo:  bm.MaxCombo(),
		mode:      mode,
		mods:      mods,
		totalHits: bm.TotalObjects(),
		clockRate: clockRate,
		drainSecs: drain,
	}
}

func arToPreempt(ar float64) float64 {
	if ar <= 5 {
		return 1200 + 600*(5-ar)/5
	}
	return 1200 - 750*(ar-5)/5
}

func preemptToAR(preempt float64) float64 {
	if preempt >= 1200 {
		return 5 - (preempt-1200)/600*5
	}
	return 5 + (1200-preempt)/750*5
}
