package snapshot

import (
	"context"
	"errors"
	"sync"

	"gigebridge/internal/camera"
)

// ErrNoFrame はまだフレームが届いていないことを表す
var ErrNoFrame = errors.New("フレームがまだありません")

// Store は最新フレームを1枚だけ保持し、要求時にJPEGへ変換する
// Put は取得ループ上で呼ばれるためエンコードは行わない
type Store struct {
	encoder *Encoder

	mu      sync.RWMutex
	latest  *camera.FrameBuffer
	seq     uint64
	updated chan struct{}

	cacheMu  sync.Mutex
	cacheSeq uint64
	cache    []byte
}

// NewStore は新しいStoreを作成する
func NewStore(encoder *Encoder) *Store {
	return &Store{
		encoder: encoder,
		updated: make(chan struct{}),
	}
}

// Put は最新フレームを差し替えて待機中の読み手を起こす
func (s *Store) Put(frame *camera.FrameBuffer) {
	s.mu.Lock()
	s.latest = frame
	s.seq++
	ch := s.updated
	s.updated = make(chan struct{})
	s.mu.Unlock()

	close(ch)
}

// Reset は保持しているフレームを破棄する
func (s *Store) Reset() {
	s.mu.Lock()
	s.latest = nil
	s.mu.Unlock()
}

// Latest は最新フレームと通し番号を返す
func (s *Store) Latest() (*camera.FrameBuffer, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.seq
}

// JPEG は最新フレームのJPEGを返す。同じフレームの再エンコードはしない
func (s *Store) JPEG() ([]byte, uint64, error) {
	frame, seq := s.Latest()
	if frame == nil {
		return nil, seq, ErrNoFrame
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	if s.cache != nil && s.cacheSeq == seq {
		return s.cache, seq, nil
	}

	data, err := s.encoder.Encode(frame)
	if err != nil {
		return nil, seq, err
	}
	s.cache = data
	s.cacheSeq = seq
	return data, seq, nil
}

// Wait は通し番号が after より進むまで待つ
func (s *Store) Wait(ctx context.Context, after uint64) (uint64, error) {
	for {
		s.mu.RLock()
		seq, ch := s.seq, s.updated
		s.mu.RUnlock()

		if seq > after {
			return seq, nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return seq, ctx.Err()
		}
	}
}
