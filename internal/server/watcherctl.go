package server

import (
	"sync"

	"github.com/standardbeagle/uci/internal/types"
)

// WatcherControl is the mailbox the watcher polls on its heartbeat. The
// service never talks to the watcher directly; it only raises flags here.
type WatcherControl struct {
	mu               sync.Mutex
	stopRequested    bool
	refreshRequested bool
	refreshLanguages map[types.Language]bool
}

// NewWatcherControl creates an empty mailbox.
func NewWatcherControl() *WatcherControl {
	return &WatcherControl{refreshLanguages: make(map[types.Language]bool)}
}

// RequestStop raises the stop flag. It stays raised; a restarted watcher
// clears it implicitly by registering a fresh service.
func (wc *WatcherControl) RequestStop() {
	wc.mu.Lock()
	wc.stopRequested = true
	wc.mu.Unlock()
}

// RequestRefresh raises the refresh flag, optionally scoped to one language.
func (wc *WatcherControl) RequestRefresh(lang types.Language) {
	wc.mu.Lock()
	wc.refreshRequested = true
	if lang != "" {
		wc.refreshLanguages[lang] = true
	}
	wc.mu.Unlock()
}

// Flags snapshots the mailbox. Refresh flags clear on read (the watcher acts
// on them once); the stop flag persists.
func (wc *WatcherControl) Flags() (stop, refresh bool, langs []types.Language) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	stop = wc.stopRequested
	refresh = wc.refreshRequested
	for lang := range wc.refreshLanguages {
		langs = append(langs, lang)
	}
	wc.refreshRequested = false
	wc.refreshLanguages = make(map[types.Language]bool)
	return stop, refresh, langs
}
