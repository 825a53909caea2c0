package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const filePrefix = "snapshot_"

// Recorder は最新フレームを一定間隔でJPEGファイルに保存する
type Recorder struct {
	store  *Store
	config Config

	// 制御用
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool

	saved       uint64
	failed      uint64
	lastSaved   string
	lastSavedAt time.Time
	lastSeq     uint64
}

// NewRecorder は新しいRecorderを作成する
func NewRecorder(store *Store, config Config) *Recorder {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	return &Recorder{
		store:  store,
		config: config,
	}
}

// Start は記録を開始する
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}

	if err := os.MkdirAll(r.config.Dir, 0755); err != nil {
		return fmt.Errorf("出力ディレクトリの作成に失敗: %w", err)
	}

	r.stopCh = make(chan struct{})
	r.running = true

	r.wg.Add(1)
	go r.captureLoop(ctx, r.stopCh)

	slog.Info("スナップショット記録を開始しました", "dir", r.config.Dir, "interval", r.config.Interval)
	return nil
}

// Stop は記録を停止する
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	close(r.stopCh)
	r.running = false
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		slog.Warn("スナップショット記録の停止がタイムアウトしました")
	case <-ctx.Done():
		return ctx.Err()
	}

	slog.Info("スナップショット記録を停止しました")
	return nil
}

// captureLoop は間隔ごとの保存と日次の古いファイル削除を行う
func (r *Recorder) captureLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	if _, err := r.Cleanup(time.Now()); err != nil {
		slog.Warn("古いスナップショットの削除に失敗", "error", err)
	}
	midnightTimer := time.NewTimer(time.Until(nextMidnight(time.Now())))
	defer midnightTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if _, err := r.SaveLatest(time.Now()); err != nil && !errors.Is(err, ErrNoFrame) {
				slog.Warn("スナップショットの保存に失敗", "error", err)
			}
		case <-midnightTimer.C:
			if _, err := r.Cleanup(time.Now()); err != nil {
				slog.Warn("古いスナップショットの削除に失敗", "error", err)
			}
			midnightTimer.Reset(time.Until(nextMidnight(time.Now())))
		}
	}
}

// SaveLatest は最新フレームを保存する。前回と同じフレームなら何もしない
func (r *Recorder) SaveLatest(now time.Time) (string, error) {
	data, seq, err := r.store.JPEG()
	if err != nil {
		if !errors.Is(err, ErrNoFrame) {
			r.mu.Lock()
			r.failed++
			r.mu.Unlock()
		}
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if seq == r.lastSeq {
		return "", nil
	}

	name := filename(now)
	path := filepath.Join(r.config.Dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		r.failed++
		return "", fmt.Errorf("スナップショットの書き込みに失敗: %w", err)
	}

	r.saved++
	r.lastSeq = seq
	r.lastSaved = name
	r.lastSavedAt = now
	return path, nil
}

// Cleanup は保持期間を過ぎたファイルを削除し、削除数を返す
func (r *Recorder) Cleanup(now time.Time) (int, error) {
	if r.config.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := now.AddDate(0, 0, -r.config.RetentionDays)

	files, err := r.List()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, f := range files {
		if f.Captured.Before(cutoff) {
			if err := os.Remove(f.Path); err != nil {
				slog.Warn("ファイルの削除に失敗", "path", f.Path, "error", err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		slog.Info("古いスナップショットを削除しました", "count", removed)
	}
	return removed, nil
}

// List は保存済みスナップショットを新しい順に返す
func (r *Recorder) List() ([]File, error) {
	entries, err := os.ReadDir(r.config.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []File{}, nil
		}
		return nil, fmt.Errorf("ディレクトリの読み取りに失敗: %w", err)
	}

	files := make([]File, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), filePrefix) || filepath.Ext(entry.Name()) != ".jpg" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		captured, err := parseFilename(entry.Name())
		if err != nil {
			captured = info.ModTime()
		}
		files = append(files, File{
			Name:     entry.Name(),
			Path:     filepath.Join(r.config.Dir, entry.Name()),
			Size:     info.Size(),
			Captured: captured,
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Captured.After(files[j].Captured)
	})
	return files, nil
}

// Status は現在の状態を返す
func (r *Recorder) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Status{
		Enabled:     r.config.Enabled,
		Running:     r.running,
		Saved:       r.saved,
		Failed:      r.failed,
		LastSaved:   r.lastSaved,
		LastSavedAt: r.lastSavedAt,
	}
}

const filenameLayout = "20060102T150405.000"

// filename はスナップショットのファイル名を生成する
func filename(t time.Time) string {
	return filePrefix + t.Format(filenameLayout) + ".jpg"
}

func parseFilename(name string) (time.Time, error) {
	s := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), ".jpg")
	return time.ParseInLocation(filenameLayout, s, time.Local)
}

// nextMidnight は次の0時の時刻を取得する
func nextMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
}
