// Package audiofocus arbitrates exclusive audio output between owners in
// one process.
package audiofocus

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/TobiSchelling/newsreader/internal/playback"
)

// Arbiter grants focus to at most one owner at a time. A transient grant
// suspends the previous holder, which regains focus when the transient
// holder abandons it.
type Arbiter struct {
	mu        sync.Mutex
	holder    *Handle
	transient bool
	suspended *Handle
}

// New creates an arbiter with focus free.
func New() *Arbiter {
	return &Arbiter{}
}

// Handle is one owner's view of the arbiter.
type Handle struct {
	a      *Arbiter
	owner  string
	events chan playback.FocusEvent
}

// Handle registers an owner.
func (a *Arbiter) Handle(owner string) *Handle {
	return &Handle{a: a, owner: owner, events: make(chan playback.FocusEvent, 8)}
}

// Holder returns the current holder's name, or "" when focus is free.
func (a *Arbiter) Holder() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.holder == nil {
		return ""
	}
	return a.holder.owner
}

// Owner is the name given to Arbiter.Handle.
func (h *Handle) Owner() string { return h.owner }

// Events delivers losses and regains of focus. Events are dropped when the
// buffer is full.
func (h *Handle) Events() <-chan playback.FocusEvent { return h.events }

// Request asks for a lasting grant. It is denied while another owner holds
// a lasting grant and preempts a transient holder.
func (h *Handle) Request() bool {
	a := h.a
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case a.holder == h:
		return true
	case a.holder != nil && !a.transient:
		log.Infof("audiofocus: %s denied, held by %s", h.owner, a.holder.owner)
		return false
	case a.holder != nil:
		a.holder.notify(playback.PermanentLoss)
	}
	if a.suspended != nil && a.suspended != h {
		a.suspended.notify(playback.PermanentLoss)
	}
	a.suspended = nil
	a.holder, a.transient = h, false
	log.Debugf("audiofocus: granted to %s", h.owner)
	return true
}

// Acquire takes focus from whoever holds it. The previous holder loses it
// transiently when transient is set, permanently otherwise.
func (h *Handle) Acquire(transient bool) {
	a := h.a
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.holder == h {
		return
	}
	if a.holder != nil {
		if transient && !a.transient {
			a.holder.notify(playback.TransientLoss)
			a.suspended = a.holder
		} else {
			a.holder.notify(playback.PermanentLoss)
		}
	}
	if !transient && a.suspended != nil {
		a.suspended.notify(playback.PermanentLoss)
		a.suspended = nil
	}
	a.holder, a.transient = h, transient
	log.Infof("audiofocus: %s acquired (transient=%t)", h.owner, transient)
}

// Abandon gives up focus. A holder suspended by this one's transient grant
// gets it back.
func (h *Handle) Abandon() {
	a := h.a
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.holder != h {
		if a.suspended == h {
			a.suspended = nil
		}
		return
	}
	a.holder = nil
	if a.transient && a.suspended != nil {
		a.holder, a.transient = a.suspended, false
		a.suspended = nil
		a.holder.notify(playback.Regained)
		return
	}
	a.transient = false
}

// Release is Abandon under the name playback expects.
func (h *Handle) Release() { h.Abandon() }

func (h *Handle) notify(ev playback.FocusEvent) {
	select {
	case h.events <- ev:
	default:
		log.Warnf("audiofocus: dropped %s for %s", ev, h.owner)
	}
}
