// Package performance hosts the PP algorithm family. Variants are enumerated
// per rework id; each one is a pure function from (beatmap bytes, score
// inputs) to sanitized performance attributes.
package performance

import (
	"bufio"
	"bytes"
	"errors"
	"strconv"
	"strings"
)

var ErrMalformedBeatmap = errors.New("performance: malformed beatmap file")

// Beatmap is the parsed subset of an .osu file the difficulty model needs.
type Beatmap struct {
	Mode int32

	HP float64
	CS float64
	OD float64
	AR float64

	SliderMultiplier float64

	Circles  int
	Sliders  int
	Spinners int

	// SliderTicks is the estimated total tick count across all sliders,
	// used for max combo.
	SliderTicks int

	// DrainSeconds is the span between first and last hit object.
	DrainSeconds float64
}

func (b *Beatmap) TotalObjects() int {
	return b.Circles + b.Sliders + b.Spinners
}

// MaxCombo is objects plus slider ticks, matching the stable combo model
// closely enough for combo scaling.
func (b *Beatmap) MaxCombo() int {
	return b.TotalObjects() + b.Sliders + b.SliderTicks
}

// ParseBeatmap reads the sections the model depends on ([General],
// [Difficulty], [HitObjects]) and rejects files without the osu header or
// without hit objects.
func ParseBeatmap(raw []byte) (*Beatmap, error) {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() || !strings.Contains(scanner.Text(), "osu file format") {
		return nil, ErrMalformedBeatmap
	}

	bm := &Beatmap{
		HP:               5,
		CS:               5,
		OD:               5,
		AR:               -1,
		SliderMultiplier: 1.4,
	}

	section := ""
	firstObject := -1.0
	lastObject := -1.0

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = line
			continue
		}

		switch section {
		case "[General]":
			if key, value, ok := splitKeyValue(line); ok && key == "Mode" {
				mode, err := strconv.Atoi(value)
				if err != nil || mode < 0 || mode > 3 {
					return nil, ErrMalformedBeatmap
				}
				bm.Mode = int32(mode)
			}
		case "[Difficulty]":
			key, value, ok := splitKeyValue(line)
			if !ok {
				continue
			}
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				continue
			}
			switch key {
			case "HPDrainRate":
				bm.HP = f
			case "CircleSize":
				bm.CS = f
			case "OverallDifficulty":
				bm.OD = f
			case "ApproachRate":
				bm.AR = f
			case "SliderMultiplier":
				bm.SliderMultiplier = f
			}
		case "[HitObjects]":
			fields := strings.Split(line, ",")
			if len(fields) < 4 {
				continue
			}
			objTime, err := strconv.ParseFloat(fields[2], 64)
			if err != nil {
				continue
			}
			objType, err := strconv.Atoi(fields[3])
			if err != nil {
				continue
			}

			if firstObject < 0 {
				firstObject = objTime
			}
			lastObject = objTime

			switch {
			case objType&2 != 0: // slider
				bm.Sliders++
				if len(fields) >= 8 {
					if length, err := strconv.ParseFloat(fields[7], 64); err == nil && bm.SliderMultiplier > 0 {
						bm.SliderTicks += int(length / (100 * bm.SliderMultiplier))
					}
				}
			case objType&8 != 0: // spinner
				bm.Spinners++
			default:
				bm.Circles++
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, ErrMalformedBeatmap
	}

	if bm.TotalObjects() == 0 {
		return nil, ErrMalformedBeatmap
	}

	// Old maps omit AR; it mirrors OD there.
	if bm.AR < 0 {
		bm.AR = bm.OD
	}
	if lastObject > firstObject {
		bm.DrainSeconds = (lastObject - firstObject) / 1000
	}

	return bm, nil
}

func splitKeyValue(line string) (string, string, bool) {
	key, value, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}
	return strings.TrimSpace(key), strings.TrimSpace(value), true
}
