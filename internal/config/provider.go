package config

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Provider hands out the current DetectionConfig snapshot. Readers call
// Detection() at decision time so operator edits apply to the next event
// without a restart.
type Provider struct {
	path string

	mu  sync.RWMutex
	cfg *Config
}

func NewProvider(path string, initial *Config) *Provider {
	return &Provider{path: path, cfg: initial}
}

// Detection returns a copy of the current detection settings.
func (p *Provider) Detection() DetectionConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.Detection
}

func (p *Provider) Reload() {
	cfg, err := Load(p.path)
	if err != nil {
		log.Printf("[ERROR] Config: reload of %s failed, keeping previous settings: %v", p.path, err)
		return
	}
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
	log.Printf("Config: reloaded %s", p.path)
}

// StartWatcher monitors the config file for changes and reloads.
// Supports both fsnotify and polling as fallback.
func (p *Provider) StartWatcher(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	usePolling := false

	if err != nil {
		log.Printf("Config Watcher: fsnotify failed (%v), falling back to polling", err)
		usePolling = true
	} else if err := watcher.Add(p.path); err != nil {
		log.Printf("Config Watcher: failed to watch %s (%v), falling back to polling", p.path, err)
		usePolling = true
		watcher.Close()
	}

	go func() {
		if usePolling {
			p.pollLoop(ctx)
			return
		}
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					// Editors often write in two ops; let the file settle.
					time.Sleep(100 * time.Millisecond)
					p.Reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("Config Watcher error: %v", err)
			}
		}
	}()
}

func (p *Provider) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Reload()
		}
	}
}
