package performance

// Evaluator computes live-family pp for many scores on one beatmap. The
// beatmap is parsed once and difficulty is cached per (mode, mods) group, so
// bulk recalculation pays the expensive work once per group instead of once
// per score.
type Evaluator struct {
	bm    *Beatmap
	diffs map[diffKey]*Difficulty
}

type diffKey struct {
	Mode int32
	Mods int32
}

func NewEvaluator(raw []byte) (*Evaluator, error) {
	bm, err := ParseBeatmap(raw)
	if err != nil {
		return nil, err
	}
	return &Evaluator{bm: bm, diffs: map[diffKey]*Difficulty{}}, nil
}

func (e *Evaluator) difficulty(mode int32, mods int32) *Difficulty {
	key := diffKey{mode, mods}
	if d, ok := e.diffs[key]; ok {
		return d
	}
	d := NewDifficulty(e.bm, mode, mods)
	e.diffs[key] = d
	return d
}

// PP evaluates one score with the live dispatch rules: relax plays on osu
// standard use the osu2019-relax tuning, everything else the live tuning.
// The result is sanitized.
func (e *Evaluator) PP(p ScoreParams) float64 {
	d := e.difficulty(p.Mode, p.Mods)
	t := &live.tuning
	if p.Mode == 0 && p.Mods&modRelax != 0 {
		t = &osu2019Relax.tuning
	}
	return Round2(t.calculate(d, &p))
}
