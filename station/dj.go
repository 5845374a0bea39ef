package main

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DJIntent is the bundled plan for the next segment, produced in
// THINK and consumed in DO. Never mutated after production.
type DJIntent struct {
	ID           string
	NextSong     *AudioEvent
	Intro        *AudioEvent
	Outro        *AudioEvent
	Announcement *AudioEvent
	LegalID      bool
	Terminal     bool
	CreatedAt    time.Time
}

// ScheduledAnnouncement is one tickler entry: an announcement that
// becomes eligible at a wall-clock time.
type ScheduledAnnouncement struct {
	Path      string    `json:"path"`
	NotBefore time.Time `json:"not_before"`
}

// DJState is the persistable part of the engine.
type DJState struct {
	LastLegalID time.Time               `json:"last_legal_id"`
	Tickler     []ScheduledAnnouncement `json:"tickler"`
}

// DJEngine implements THINK/DO. THINK runs during SegmentStarted of
// the current segment and produces an intent from in-memory state
// only; DO runs during SegmentFinished and enqueues the intent's
// events. The engine never mutates playout outside DO.
type DJEngine struct {
	rotation *RotationSelector
	library  *Library
	playout  *PlayoutEngine

	legalIDInterval time.Duration
	legalIDIx       int

	mu            sync.Mutex
	lastLegalID   time.Time
	tickler       []ScheduledAnnouncement
	pendingIntent *DJIntent

	draining         atomic.Bool
	disabled         atomic.Bool
	terminalProduced bool

	now func() time.Time
}

func NewDJEngine(rotation *RotationSelector, library *Library, playout *PlayoutEngine, legalIDInterval time.Duration) *DJEngine {
	return &DJEngine{
		rotation:        rotation,
		library:         library,
		playout:         playout,
		legalIDInterval: legalIDInterval,
		now:             time.Now,
	}
}

// SetDraining switches THINK to terminal mode: at most one more
// intent, the shutdown announcement.
func (dj *DJEngine) SetDraining() {
	dj.draining.Store(true)
}

// Disable stops all THINK/DO activity. Used by the hard-stop phase.
func (dj *DJEngine) Disable() {
	dj.disabled.Store(true)
}

// ScheduleAnnouncement adds a tickler entry.
func (dj *DJEngine) ScheduleAnnouncement(path string, notBefore time.Time) {
	dj.mu.Lock()
	defer dj.mu.Unlock()
	dj.tickler = append(dj.tickler, ScheduledAnnouncement{Path: path, NotBefore: notBefore})
}

// SegmentStarted is the THINK phase.
func (dj *DJEngine) SegmentStarted(ev AudioEvent) {
	if dj.disabled.Load() {
		return
	}

	log.Printf("DJ: think started (during %s)", ev.Path)
	intent := dj.think()

	dj.mu.Lock()
	dj.pendingIntent = intent
	dj.mu.Unlock()

	if intent != nil {
		log.Printf("DJ: think completed: intent %s (terminal=%v legal_id=%v)",
			intent.ID, intent.Terminal, intent.LegalID)
	} else {
		log.Printf("DJ: think completed: no further intent")
	}
}

func (dj *DJEngine) think() *DJIntent {
	if dj.draining.Load() {
		return dj.terminalThink()
	}

	now := dj.now()
	track := dj.rotation.NextTrack()

	intent := &DJIntent{
		ID:        uuid.NewString(),
		CreatedAt: now,
		NextSong: &AudioEvent{
			Path: track.Path,
			Type: SegmentSong,
			Metadata: map[string]string{
				"title": track.Title,
			},
		},
	}
	intent.NextSong.IntentID = intent.ID

	if intros := dj.library.IntroFor(track); len(intros) > 0 {
		intent.Intro = &AudioEvent{Path: intros[0], Type: SegmentIntro, IntentID: intent.ID}
	}
	if outros := dj.library.OutroFor(track); len(outros) > 0 {
		intent.Outro = &AudioEvent{Path: outros[0], Type: SegmentOutro, IntentID: intent.ID}
	}

	if ann, legal := dj.pickAnnouncement(now); ann != nil {
		ann.IntentID = intent.ID
		intent.Announcement = ann
		intent.LegalID = legal
	}

	return intent
}

// terminalThink produces the one intent allowed during draining: the
// shutdown announcement, if the library has one.
func (dj *DJEngine) terminalThink() *DJIntent {
	dj.mu.Lock()
	defer dj.mu.Unlock()
	if dj.terminalProduced {
		return nil
	}
	dj.terminalProduced = true

	path := dj.library.ShutdownAnnouncement()
	if path == "" {
		return nil
	}
	intent := &DJIntent{
		ID:        uuid.NewString(),
		CreatedAt: dj.now(),
		Terminal:  true,
		Announcement: &AudioEvent{
			Path: path,
			Type: SegmentAnnouncement,
		},
	}
	intent.Announcement.IntentID = intent.ID
	return intent
}

// pickAnnouncement decides whether this intent carries an
// announcement: a due legal ID wins, then the earliest due tickler
// entry. At most one per intent. The bool reports whether the chosen
// asset is a legal ID; only that resets the legal ID clock in DO.
func (dj *DJEngine) pickAnnouncement(now time.Time) (*AudioEvent, bool) {
	dj.mu.Lock()
	defer dj.mu.Unlock()

	if ids := dj.library.LegalIDs(); len(ids) > 0 && now.Sub(dj.lastLegalID) >= dj.legalIDInterval {
		path := ids[dj.legalIDIx%len(ids)]
		dj.legalIDIx++
		return &AudioEvent{Path: path, Type: SegmentAnnouncement}, true
	}

	for i, s := range dj.tickler {
		if !now.Before(s.NotBefore) {
			dj.tickler = append(dj.tickler[:i], dj.tickler[i+1:]...)
			return &AudioEvent{Path: s.Path, Type: SegmentAnnouncement}, false
		}
	}
	return nil, false
}

// SegmentFinished is the DO phase: enqueue the pending intent as
// announcement, intro, song, outro. Degrades to a plain rotation pick
// when THINK left no intent.
func (dj *DJEngine) SegmentFinished(ev AudioEvent) {
	if dj.disabled.Load() {
		return
	}

	dj.mu.Lock()
	intent := dj.pendingIntent
	dj.pendingIntent = nil
	dj.mu.Unlock()

	// A drain that began after THINK makes a non-terminal intent
	// stale: only the terminal segment may follow the segment now
	// finishing, never another full song block.
	if intent != nil && !intent.Terminal && dj.draining.Load() {
		log.Printf("DJ: discarding stale intent %s, drain in progress", intent.ID)
		intent = dj.terminalThink()
	}

	if intent == nil {
		if dj.draining.Load() {
			// Drained dry on purpose; the playout engine will flip
			// terminal-complete.
			return
		}
		dj.enqueueFallbackSong()
		return
	}

	if intent.Announcement != nil {
		dj.playout.Enqueue(*intent.Announcement)
	}
	if intent.Intro != nil {
		dj.playout.Enqueue(*intent.Intro)
	}
	if intent.NextSong != nil {
		dj.playout.Enqueue(*intent.NextSong)
	}
	if intent.Outro != nil {
		dj.playout.Enqueue(*intent.Outro)
	}

	if intent.LegalID {
		dj.mu.Lock()
		dj.lastLegalID = dj.now()
		dj.mu.Unlock()
	}
}

// enqueueFallbackSong keeps the station audible when an intent is
// missing: straight rotation pick, no companions.
func (dj *DJEngine) enqueueFallbackSong() {
	track := dj.rotation.NextTrack()
	log.Printf("DJ: no intent pending, falling back to %s", track.Path)
	dj.playout.Enqueue(AudioEvent{
		Path:     track.Path,
		Type:     SegmentSong,
		Metadata: map[string]string{"title": track.Title},
	})
}

// BootstrapDO enqueues the first song directly, for startups with no
// announcement to hang the first THINK on.
func (dj *DJEngine) BootstrapDO() {
	dj.enqueueFallbackSong()
}

// State snapshots the engine for persistence.
func (dj *DJEngine) State() DJState {
	dj.mu.Lock()
	defer dj.mu.Unlock()
	return DJState{
		LastLegalID: dj.lastLegalID,
		Tickler:     append([]ScheduledAnnouncement(nil), dj.tickler...),
	}
}

// Restore loads persisted engine state for a warm start.
func (dj *DJEngine) Restore(state DJState) {
	dj.mu.Lock()
	defer dj.mu.Unlock()
	dj.lastLegalID = state.LastLegalID
	dj.tickler = append([]ScheduledAnnouncement(nil), state.Tickler...)
}
