package performance

import (
	"fmt"

	"github.com/osu-rework/performance-service/service/apperrors"
)

// Rework algorithm ids, matching the reworks catalogue.
const (
	ReworkConceptual                      int32 = 17
	ReworkSkillRebalance                  int32 = 18
	ReworkImprovedMissPenalty             int32 = 19
	ReworkFlashlightHotfix                int32 = 21
	ReworkRemoveAccuracy                  int32 = 22
	ReworkStreamNerfSpeed                 int32 = 23
	ReworkRemoveManualAdjustments         int32 = 24
	ReworkFixInconsistentPowers           int32 = 25
	ReworkAimAccuracyFix                  int32 = 26
	ReworkImprovedMissPenaltyAndAccRework int32 = 27
	ReworkEverythingAtOnce                int32 = 28
)

// Attributes is a sanitized calculation result: pp and stars are rounded to
// two decimals and always finite and non-negative.
type Attributes struct {
	PP       float64
	Stars    float64
	AR       float64
	OD       float64
	MaxCombo int
}

// Calculator is one algorithm variant.
type Calculator interface {
	Name() string
	Calculate(beatmap []byte, p ScoreParams) (Attributes, error)
}

type variant struct {
	name   string
	tuning tuning
}

func (v *variant) Name() string { return v.name }

func (v *variant) Calculate(beatmap []byte, p ScoreParams) (Attributes, error) {
	bm, err := ParseBeatmap(beatmap)
	if err != nil {
		return Attributes{}, apperrors.Wrap(apperrors.DependencyFailed, "Failed to parse beatmap", err)
	}

	d := NewDifficulty(bm, p.Mode, p.Mods)
	pp := v.tuning.calculate(d, &p)

	ar, od := d.AR, d.OD
	if p.Mode != 0 {
		ar, od = 0, 0
	}

	return Attributes{
		PP:       Round2(pp),
		Stars:    Round2(d.Stars),
		AR:       ar,
		OD:       od,
		MaxCombo: d.MaxCombo,
	}, nil
}

func newVariant(name string, mutate func(*tuning)) *variant {
	t := baseTuning()
	if mutate != nil {
		mutate(&t)
	}
	return &variant{name: name, tuning: t}
}

var (
	live = newVariant("live", nil)

	osu2019Relax = newVariant("osu2019-relax", func(t *tuning) {
		t.AimWeight = 1.4
		t.SpeedWeight = 0.3
		t.AccCurveExponent = 8
		t.FinalMultiplier = 1.0
	})

	variants = map[int32]*variant{
		ReworkConceptual: newVariant("conceptual_rework", func(t *tuning) {
			t.AimWeight = 1.1
			t.SpeedWeight = 0.9
			t.AccCurveExponent = 6.5
		}),
		ReworkSkillRebalance: newVariant("skill_rebalance", func(t *tuning) {
			t.AimWeight = 0.95
			t.SpeedWeight = 1.1
			t.AccWeight = 1.05
		}),
		ReworkImprovedMissPenalty: newVariant("improved_miss_penalty", func(t *tuning) {
			t.ComboAwareMisses = true
		}),
		ReworkFlashlightHotfix: newVariant("flashlight_hotfix", func(t *tuning) {
			t.FlashlightBonus = 0.06
		}),
		ReworkRemoveAccuracy: newVariant("remove_accuracy_pp", func(t *tuning) {
			t.AccWeight = 0
		}),
		ReworkStreamNerfSpeed: newVariant("stream_nerf_speed_value", func(t *tuning) {
			t.SpeedWeight = 0.8
		}),
		ReworkRemoveManualAdjustments: newVariant("remove_manual_adjustments", func(t *tuning) {
			t.FinalMultiplier = 1.0
		}),
		ReworkFixInconsistentPowers: newVariant("fix_inconsistent_powers", func(t *tuning) {
			t.ComboExponent = 1.0
			t.AccCurveExponent = 5.0
		}),
		ReworkAimAccuracyFix: newVariant("aim_accuracy_fix", func(t *tuning) {
			t.AccCurveExponent = 4.5
			t.AccWeight = 1.1
		}),
		ReworkImprovedMissPenaltyAndAccRework: newVariant("improved_miss_penalty_and_acc_rework", func(t *tuning) {
			t.ComboAwareMisses = true
			t.AccCurveExponent = 4.5
			t.AccWeight = 1.1
		}),
		ReworkEverythingAtOnce: newVariant("everything_at_once", func(t *tuning) {
			t.ComboAwareMisses = true
			t.FlashlightBonus = 0.06
			t.SpeedWeight = 0.8
			t.FinalMultiplier = 1.0
			t.ComboExponent = 1.0
			t.AccCurveExponent = 4.5
			t.AccWeight = 1.1
		}),
	}
)

// Live is the current production algorithm, used by deploy and /calculate.
func Live() Calculator { return live }

// Osu2019Relax is the relax-specific algorithm, selected for mods&0x80 plays
// on mode 0 in the live family (deploy phase A and /calculate). Rework
// variants carry their own dispatch and never fall through to it.
func Osu2019Relax() Calculator { return osu2019Relax }

// ForRework resolves a rework id to its algorithm variant.
func ForRework(reworkID int32) (Calculator, error) {
	v, ok := variants[reworkID]
	if !ok {
		return nil, apperrors.Wrap(apperrors.NotFound, "Unknown rework algorithm",
			fmt.Errorf("no algorithm variant for rework %d", reworkID))
	}
	return v, nil
}

// ForPlay picks the live-family calculator for a play: osu2019-relax for
// relax scores on osu standard, the general live algorithm otherwise.
func ForPlay(mode int32, mods int32) Calculator {
	if mode == 0 && mods&modRelax != 0 {
		return osu2019Relax
	}
	return live
}
