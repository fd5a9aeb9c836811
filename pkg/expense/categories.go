package expense

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// CategoriesURI is the MCP resource URI of the category list.
const CategoriesURI = "expense://categories"

var errCategoriesMissing = errors.New("categories.json not found")

// Categories serves a JSON category file and reloads it when it changes on
// disk.
type Categories struct {
	path   string
	logger zerolog.Logger

	mu      sync.RWMutex
	data    any
	loadErr error

	watcher  *fsnotify.Watcher
	debounce time.Duration
	timer    *time.Timer
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCategories loads path once. Call Watch to follow later edits.
func NewCategories(path string, logger zerolog.Logger) *Categories {
	c := &Categories{
		path:     path,
		logger:   logger.With().Str("component", "expense_categories").Logger(),
		debounce: 200 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}
	c.reload()
	return c
}

// Get returns the parsed file, or an error when it is missing or invalid.
func (c *Categories) Get() (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data, c.loadErr
}

func (c *Categories) reload() {
	data, err := os.ReadFile(c.path)
	var parsed any
	switch {
	case errors.Is(err, os.ErrNotExist):
		err = errCategoriesMissing
	case err == nil:
		if jerr := json.Unmarshal(data, &parsed); jerr != nil {
			err = fmt.Errorf("invalid categories.json: %w", jerr)
		}
	}

	c.mu.Lock()
	c.data, c.loadErr = parsed, err
	c.mu.Unlock()

	if err != nil {
		c.logger.Debug().Err(err).Str("path", c.path).Msg("Categories unavailable")
		return
	}
	c.logger.Debug().Str("path", c.path).Msg("Categories loaded")
}

// Watch starts following the directory that holds the file, so that the
// file can be created, replaced or removed after startup.
func (c *Categories) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(c.path)); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(c.path), err)
	}
	c.watcher = w
	go c.run()
	return nil
}

// Stop ends the watch.
func (c *Categories) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.stopCh)
		if c.watcher != nil {
			err = c.watcher.Close()
		}
	})
	return err
}

func (c *Categories) run() {
	target := filepath.Clean(c.path)
	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				c.logger.Debug().Str("op", event.Op.String()).Msg("Categories file changed")
				c.scheduleReload()
			}

		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Error().Err(err).Msg("Categories watcher error")

		case <-c.stopCh:
			return
		}
	}
}

func (c *Categories) scheduleReload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, c.reload)
}
