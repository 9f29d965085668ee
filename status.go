package main

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// statusBoard is the page's status line and loading indicator.
type statusBoard struct {
	mu      sync.RWMutex
	text    string
	loading bool
}

type StatusView struct {
	Text    string `json:"text"`
	Loading bool   `json:"loading"`
}

func (b *statusBoard) SetStatusText(text string) {
	b.mu.Lock()
	b.text = text
	b.mu.Unlock()
	if text != "" {
		log.WithField("status", text).Debug("status changed")
	}
}

func (b *statusBoard) ToggleLoading(loading bool) {
	b.mu.Lock()
	b.loading = loading
	b.mu.Unlock()
}

func (b *statusBoard) View() StatusView {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return StatusView{Text: b.text, Loading: b.loading}
}
