package executor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/demoulas/profitsharing-migrator/internal/backends"
	"github.com/demoulas/profitsharing-migrator/internal/logger"
	"github.com/demoulas/profitsharing-migrator/internal/registry"
)

const (
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"

	// DefaultWatchInterval is how often the watcher rescans the migrations directory.
	DefaultWatchInterval = time.Minute
)

// {version}_{name} where version is 14 digits
var fileNamePattern = regexp.MustCompile(`^(\d{14})_([A-Za-z0-9_]+)$`)

// Header directives read from the leading comment block of an up file.
var directivePattern = regexp.MustCompile(`^--\s*(depends|table):\s*(.+)$`)

// Loader loads SQL-file migrations laid out as
// {path}/{backend}/{connection}/{version}_{name}.up.sql with an optional
// matching .down.sql.
type Loader struct {
	path      string
	registry  registry.Registry
	onLoad    func(*backends.MigrationScript)
	seenFiles map[string]time.Time // up file -> newest mod time of the pair
	mu        sync.Mutex

	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

// NewLoader creates a new migration loader
func NewLoader(path string) *Loader {
	return &Loader{
		path:      path,
		seenFiles: make(map[string]time.Time),
	}
}

// SetOnLoad sets a callback run for every migration the loader registers.
func (l *Loader) SetOnLoad(fn func(*backends.MigrationScript)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onLoad = fn
}

// LoadAll loads every migration under the loader's path into reg. A missing
// directory loads nothing.
func (l *Loader) LoadAll(reg registry.Registry) (int, error) {
	l.mu.Lock()
	l.registry = reg
	l.mu.Unlock()

	n, err := l.scan()
	if err != nil {
		return n, err
	}
	logger.Infof("Loaded %d SQL migration(s) from %s", n, l.path)
	return n, nil
}

// StartWatching rescans the directory every interval until StopWatching is
// called or ctx ends. New and modified files are (re)registered.
func (l *Loader) StartWatching(ctx context.Context, interval time.Duration) {
	l.mu.Lock()
	if l.watchCancel != nil {
		l.mu.Unlock()
		return
	}
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	l.watchCancel = cancel
	l.watchDone = make(chan struct{})
	done := l.watchDone
	l.mu.Unlock()

	logger.Infof("Starting migration file watcher on %s (every %s)", l.path, interval)
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("Migration file watcher stopped")
				return
			case <-ticker.C:
				n, err := l.scan()
				if err != nil {
					logger.Warnf("Error scanning for new migrations: %v", err)
				}
				if n > 0 {
					logger.Infof("Watcher loaded %d new or changed migration(s)", n)
				}
			}
		}
	}()
}

// StopWatching stops the background file watcher and waits for it to exit
func (l *Loader) StopWatching() {
	l.mu.Lock()
	cancel, done := l.watchCancel, l.watchDone
	l.watchCancel, l.watchDone = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// scan registers every up file that is new or changed since the last scan.
func (l *Loader) scan() (int, error) {
	if l.path == "" {
		return 0, nil
	}
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		return 0, nil
	}

	loaded := 0
	err := filepath.Walk(l.path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, upSuffix) {
			return nil
		}

		relPath, err := filepath.Rel(l.path, path)
		if err != nil {
			return err
		}
		parts := strings.Split(relPath, string(filepath.Separator))
		if len(parts) != 3 {
			return nil
		}
		matches := fileNamePattern.FindStringSubmatch(strings.TrimSuffix(parts[2], upSuffix))
		if matches == nil {
			logger.Debugf("Skipping %s: name is not {version}_{name}.up.sql", relPath)
			return nil
		}

		modTime := info.ModTime()
		downPath := strings.TrimSuffix(path, upSuffix) + downSuffix
		if downInfo, err := os.Stat(downPath); err == nil && downInfo.ModTime().After(modTime) {
			modTime = downInfo.ModTime()
		}
		if !l.changed(path, modTime) {
			return nil
		}

		script, err := readScript(path, downPath, parts[0], parts[1], matches[1], matches[2])
		if err != nil {
			logger.Warnf("Failed to load migration %s: %v", relPath, err)
			return nil
		}
		if err := l.register(script); err != nil {
			logger.Warnf("Failed to register migration %s: %v", relPath, err)
			return nil
		}

		l.markSeen(path, modTime)
		loaded++
		logger.Debugf("Loaded migration %s", script.ID())
		return nil
	})
	if err != nil {
		return loaded, fmt.Errorf("error scanning migrations directory: %w", err)
	}
	return loaded, nil
}

func (l *Loader) changed(path string, modTime time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen, ok := l.seenFiles[path]
	return !ok || modTime.After(seen)
}

func (l *Loader) markSeen(path string, modTime time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seenFiles[path] = modTime
}

func (l *Loader) register(script *backends.MigrationScript) error {
	l.mu.Lock()
	reg, onLoad := l.registry, l.onLoad
	l.mu.Unlock()

	if reg == nil {
		return fmt.Errorf("loader has no registry")
	}
	if err := reg.Register(script); err != nil {
		return err
	}
	if onLoad != nil {
		onLoad(script)
	}
	return nil
}

// readScript builds a migration from an up file and its optional down file.
func readScript(upPath, downPath, backend, connection, version, name string) (*backends.MigrationScript, error) {
	up, err := os.ReadFile(upPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read up SQL: %w", err)
	}
	if strings.TrimSpace(string(up)) == "" {
		return nil, fmt.Errorf("up SQL is empty")
	}

	var down []byte
	if _, err := os.Stat(downPath); err == nil {
		if down, err = os.ReadFile(downPath); err != nil {
			return nil, fmt.Errorf("failed to read down SQL: %w", err)
		}
	}

	script := &backends.MigrationScript{
		Version:    version,
		Name:       name,
		Connection: connection,
		Backend:    backend,
		UpSQL:      string(up),
		DownSQL:    string(down),
	}
	applyDirectives(script, string(up))
	return script, nil
}

// applyDirectives reads "-- depends: a, b" and "-- table: NAME" lines from
// the comment block at the top of the up SQL.
func applyDirectives(script *backends.MigrationScript, sql string) {
	scanner := bufio.NewScanner(strings.NewReader(sql))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") {
			return
		}
		m := directivePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		switch m[1] {
		case "depends":
			for _, dep := range strings.Split(m[2], ",") {
				if dep = strings.TrimSpace(dep); dep != "" {
					script.Dependencies = append(script.Dependencies, dep)
				}
			}
		case "table":
			table := strings.TrimSpace(m[2])
			script.Table = &table
			script.Tables = append(script.Tables, table)
		}
	}
}
