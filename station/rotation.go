package main

import (
	"log"
	"math"
	"math/rand"
	"time"
)

const (
	// historyCap bounds the recent-play history.
	historyCap = 48

	// recencyWindow is how many recent plays attract a penalty.
	recencyWindow = 20

	// recencyBasePenalty anchors the linear recency ramp.
	recencyBasePenalty = 0.05

	// mostRecentPenalty all but forbids an immediate repeat.
	mostRecentPenalty = 0.01

	neverPlayedBoost = 3.0
)

// PlayRecord is one entry of the rotation history, most recent first.
type PlayRecord struct {
	Path     string    `json:"path"`
	PlayedAt time.Time `json:"played_at"`
	Holiday  bool      `json:"holiday"`
}

// RotationState is the persistable part of the selector.
type RotationState struct {
	History    []PlayRecord   `json:"history"`
	PlayCounts map[string]int `json:"play_counts"`
}

// RotationSelector picks the next song with weighted randomness:
// recently-played tracks are suppressed, long-unplayed and
// never-played tracks boosted, play counts balanced, and holiday
// tracks seasonally biased. Deterministic for a seeded RNG.
type RotationSelector struct {
	regular []Track
	holiday []Track

	history    []PlayRecord // index 0 is most recent
	playCounts map[string]int

	rng *rand.Rand
	now func() time.Time
}

func NewRotationSelector(regular, holiday []Track, rng *rand.Rand) *RotationSelector {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &RotationSelector{
		regular:    regular,
		holiday:    holiday,
		playCounts: make(map[string]int),
		rng:        rng,
		now:        time.Now,
	}
}

// NextTrack selects and records one track. The pool choice comes
// first (seasonal bias), then a weighted draw within the pool.
func (rs *RotationSelector) NextTrack() Track {
	now := rs.now()

	pool := rs.regular
	fromHoliday := false
	if len(rs.holiday) > 0 && rs.rng.Float64() < holidayProbability(now) {
		pool = rs.holiday
		fromHoliday = true
	}
	if len(pool) == 0 {
		pool = rs.regular
		fromHoliday = false
	}

	track := rs.weightedDraw(pool, now)
	rs.record(track, now, fromHoliday)
	return track
}

func (rs *RotationSelector) weightedDraw(pool []Track, now time.Time) Track {
	weights := make([]float64, len(pool))
	total := 0.0
	mean := rs.meanPlayCount(pool)

	for i, t := range pool {
		weights[i] = rs.weightFor(t, now, mean)
		total += weights[i]
	}
	if total <= 0 {
		return pool[rs.rng.Intn(len(pool))]
	}

	draw := rs.rng.Float64() * total
	for i, w := range weights {
		draw -= w
		if draw < 0 {
			return pool[i]
		}
	}
	return pool[len(pool)-1]
}

// weightFor computes the selection weight of one candidate.
func (rs *RotationSelector) weightFor(t Track, now time.Time, meanPlays float64) float64 {
	w := 1.0

	pos, playedAt, played := rs.historyPosition(t.Path)
	switch {
	case played && pos == 0:
		w *= mostRecentPenalty
	case played && pos < recencyWindow:
		p := recencyBasePenalty + (1-recencyBasePenalty)*float64(pos)/recencyWindow
		w *= clamp(p, 0.05, 1.0)
	}

	if played {
		if hours := now.Sub(playedAt).Hours(); hours > 1 {
			w *= math.Min(2.0, math.Sqrt(hours/24))
		}
	} else {
		w *= neverPlayedBoost
	}

	w *= (meanPlays + 1) / (float64(rs.playCounts[t.Path]) + 1)
	return w
}

// historyPosition returns the most recent history index of the path.
func (rs *RotationSelector) historyPosition(path string) (pos int, playedAt time.Time, found bool) {
	for i, rec := range rs.history {
		if rec.Path == path {
			return i, rec.PlayedAt, true
		}
	}
	return 0, time.Time{}, false
}

func (rs *RotationSelector) meanPlayCount(pool []Track) float64 {
	if len(pool) == 0 {
		return 0
	}
	sum := 0
	for _, t := range pool {
		sum += rs.playCounts[t.Path]
	}
	return float64(sum) / float64(len(pool))
}

func (rs *RotationSelector) record(t Track, now time.Time, holiday bool) {
	rs.history = append([]PlayRecord{{Path: t.Path, PlayedAt: now, Holiday: holiday}}, rs.history...)
	if len(rs.history) > historyCap {
		rs.history = rs.history[:historyCap]
	}
	rs.playCounts[t.Path]++
}

// State snapshots the history and play counts for persistence.
func (rs *RotationSelector) State() RotationState {
	history := make([]PlayRecord, len(rs.history))
	copy(history, rs.history)
	counts := make(map[string]int, len(rs.playCounts))
	for k, v := range rs.playCounts {
		counts[k] = v
	}
	return RotationState{History: history, PlayCounts: counts}
}

// Restore replaces the selector's history and play counts, enabling a
// warm restart.
func (rs *RotationSelector) Restore(state RotationState) {
	rs.history = append([]PlayRecord(nil), state.History...)
	if len(rs.history) > historyCap {
		rs.history = rs.history[:historyCap]
	}
	rs.playCounts = make(map[string]int, len(state.PlayCounts))
	for k, v := range state.PlayCounts {
		rs.playCounts[k] = v
	}
	log.Printf("Rotation: restored %d history entries, %d play counts",
		len(rs.history), len(rs.playCounts))
}

// holidayProbability rises linearly from 0.01 on Nov 1 to 0.33 on
// Dec 25, holds there through Dec 31, and is 0 the rest of the year.
func holidayProbability(now time.Time) float64 {
	if now.Month() != time.November && now.Month() != time.December {
		return 0
	}

	start := time.Date(now.Year(), time.November, 1, 0, 0, 0, 0, now.Location())
	peak := time.Date(now.Year(), time.December, 25, 0, 0, 0, 0, now.Location())

	if !now.Before(peak) {
		return 0.33
	}
	elapsed := now.Sub(start).Hours() / 24
	span := peak.Sub(start).Hours() / 24
	return 0.01 + (0.33-0.01)*elapsed/span
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
