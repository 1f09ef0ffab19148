package performance

import "math"

// ScoreParams are the per-play inputs to a calculation. Either Accuracy or
// the 300/100/50 triple is supplied; Misses is always present.
type ScoreParams struct {
	Mode     int32
	Mods     int32
	MaxCombo int32

	Count300 int32
	Count100 int32
	Count50  int32
	Misses   int32

	// Accuracy overrides the hit counts when HasAccuracy is set. Values
	// above 1 are treated as percentages.
	Accuracy    float64
	HasAccuracy bool
}

func (p *ScoreParams) totalHits(fallback int) int {
	total := int(p.Count300 + p.Count100 + p.Count50 + p.Misses)
	if total == 0 {
		return fallback
	}
	return total
}

func (p *ScoreParams) accuracy() float64 {
	if p.HasAccuracy {
		acc := p.Accuracy
		if acc > 1 {
			acc /= 100
		}
		return clamp(acc, 0, 1)
	}
	total := float64(p.Count300+p.Count100+p.Count50+p.Misses) * 300
	if total == 0 {
		return 1
	}
	earned := float64(p.Count300)*300 + float64(p.Count100)*100 + float64(p.Count50)*50
	return clamp(earned/total, 0, 1)
}

// tuning is the coefficient set that distinguishes algorithm variants. Every
// rework is the base model with a different preset; new reworks plug in as
// new presets rather than new code paths.
type tuning struct {
	AimWeight   float64
	SpeedWeight float64
	AccWeight   float64

	// AccCurveExponent shapes how hard accuracy is punished.
	AccCurveExponent float64

	// MissPenaltyBase is the per-miss decay; ComboAwareMisses switches to
	// the penalty that scales with the share of the map that was missed.
	MissPenaltyBase  float64
	ComboAwareMisses bool

	// ComboExponent is the combo scaling power.
	ComboExponent float64

	FlashlightBonus float64
	HiddenBonus     float64

	// FinalMultiplier is the historical hand-tuned global factor.
	FinalMultiplier float64
}

func baseTuning() tuning {
	return tuning{
		AimWeight:        1.0,
		SpeedWeight:      1.0,
		AccWeight:        1.0,
		AccCurveExponent: 5.5,
		MissPenaltyBase:  0.97,
		ComboExponent:    0.8,
		FlashlightBonus:  0.12,
		HiddenBonus:      0.06,
		FinalMultiplier:  1.12,
	}
}

// skillValue is the shared star-to-pp power curve.
func skillValue(rating float64) float64 {
	return math.Pow(5*math.Max(1, rating/0.0675)-4, 3) / 100000
}

// calculate runs the parameterized model against precomputed difficulty
// attributes. Raw output; callers sanitize.
func (t *tuning) calculate(d *Difficulty, p *ScoreParams) float64 {
	totalHits := p.totalHits(d.totalHits)
	acc := p.accuracy()

	lengthBonus := 0.95 + 0.4*math.Min(1, float64(totalHits)/2000)
	if totalHits > 2000 {
		lengthBonus += math.Log10(float64(totalHits)/2000) * 0.5
	}

	missPenalty := 1.0
	if p.Misses > 0 {
		if t.ComboAwareMisses {
			missShare := float64(p.Misses) / float64(totalHits)
			missPenalty = math.Pow(1-math.Pow(missShare, 0.775), float64(p.Misses))
		} else {
			missPenalty = math.Pow(t.MissPenaltyBase, float64(p.Misses))
		}
	}

	comboScaling := 1.0
	if d.MaxCombo > 0 && p.MaxCombo > 0 {
		comboScaling = math.Min(
			math.Pow(float64(p.MaxCombo), t.ComboExponent)/math.Pow(float64(d.MaxCombo), t.ComboExponent),
			1,
		)
	}

	aimValue := skillValue(d.Aim) * lengthBonus * missPenalty * comboScaling
	aimValue *= math.Pow(acc, 2)
	if p.Mods&modHidden != 0 {
		aimValue *= 1 + t.HiddenBonus
	}
	if p.Mods&modFlashlight != 0 {
		aimValue *= 1 + t.FlashlightBonus
	}

	speedValue := skillValue(d.Speed) * lengthBonus * missPenalty * comboScaling
	speedValue *= 0.95 + math.Pow(acc, 4)/20

	accValue := math.Pow(acc, t.AccCurveExponent) * (1 + d.OD*0.045) * 42 *
		math.Min(1.15, math.Pow(float64(totalHits)/1000, 0.3))
	if p.Mods&modHidden != 0 {
		accValue *= 1.08
	}

	total := math.Pow(
		math.Pow(aimValue*t.AimWeight, 1.1)+
			math.Pow(speedValue*t.SpeedWeight, 1.1)+
			math.Pow(accValue*t.AccWeight, 1.1),
		1/1.1,
	) * t.FinalMultiplier

	if p.Mods&modNoFail != 0 {
		total *= 0.9
	}
	if p.Mods&modSpunOut != 0 {
		total *= 0.95
	}

	// Converted modes flatten into a single dominant skill.
	switch p.Mode {
	case 1: // taiko leans on speed
		total *= 0.85
	case 2: // catch leans on aim
		total *= 0.9
	case 3: // mania leans on accuracy
		total *= 0.8
	}

	return total
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
