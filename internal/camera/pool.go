package camera

import (
	"fmt"
	"sync"
)

// bufferOwner はStreamBufferの現在の所有者
type bufferOwner int

const (
	ownerPool   bufferOwner = iota // プール内で待機
	ownerQueue                     // 取得キュー（スタック側）
	ownerFilled                    // 変換段
)

func (o bufferOwner) String() string {
	switch o {
	case ownerPool:
		return "pool"
	case ownerQueue:
		return "queue"
	default:
		return "filled"
	}
}

// BufferPool は固定個数のStreamBufferと各バッファの所有者を管理する
type BufferPool struct {
	mu          sync.Mutex
	buffers     []*StreamBuffer
	owners      []bufferOwner
	payloadSize int
}

// NewBufferPool はサイズ size のバッファを n 個持つプールを作成する
func NewBufferPool(n, size int) *BufferPool {
	p := &BufferPool{}
	p.allocate(n, size)
	return p
}

func (p *BufferPool) allocate(n, size int) {
	p.buffers = make([]*StreamBuffer, n)
	p.owners = make([]bufferOwner, n)
	for i := range p.buffers {
		p.buffers[i] = &StreamBuffer{id: i, Payload: make([]byte, size)}
	}
	p.payloadSize = size
}

// Resize はペイロード長が変わった場合に全バッファを確保し直す
// 全バッファがプールに戻っている場合のみ可能
func (p *BufferPool) Resize(size int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if size == p.payloadSize {
		return nil
	}
	for i, owner := range p.owners {
		if owner != ownerPool {
			return fmt.Errorf("バッファ %d が使用中のためプールを再確保できません (%s)", i, owner)
		}
	}
	p.allocate(len(p.buffers), size)
	return nil
}

// Size はプール内のバッファ総数を返す
func (p *BufferPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffers)
}

// PayloadSize はバッファ1個あたりの容量を返す
func (p *BufferPool) PayloadSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.payloadSize
}

// Idle はプールで待機中のバッファ数を返す
func (p *BufferPool) Idle() int {
	return p.count(ownerPool)
}

// InFlight は取得キューにあるバッファ数を返す
func (p *BufferPool) InFlight() int {
	return p.count(ownerQueue)
}

func (p *BufferPool) count(owner bufferOwner) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, o := range p.owners {
		if o == owner {
			n++
		}
	}
	return n
}

// AcquireAll はプール内の全バッファを取得キュー所有に移して返す
func (p *BufferPool) AcquireAll() []*StreamBuffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	bufs := make([]*StreamBuffer, 0, len(p.buffers))
	for i, b := range p.buffers {
		if p.owners[i] != ownerPool {
			continue
		}
		b.Payload = b.Payload[:cap(b.Payload)]
		b.Size = 0
		b.Status = BufferSuccess
		p.owners[i] = ownerQueue
		bufs = append(bufs, b)
	}
	return bufs
}

// MarkFilled は取得キューから戻ったバッファを変換段の所有にする
func (p *BufferPool) MarkFilled(b *StreamBuffer) error {
	return p.move(b, ownerQueue, ownerFilled)
}

// Requeue は変換済みのバッファを再び取得キュー所有に戻す
func (p *BufferPool) Requeue(b *StreamBuffer) error {
	if err := p.move(b, ownerFilled, ownerQueue); err != nil {
		return err
	}
	b.Payload = b.Payload[:cap(b.Payload)]
	b.Size = 0
	return nil
}

// Release は取得キューまたは変換段にあるバッファをプールに戻す
func (p *BufferPool) Release(b *StreamBuffer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	i, err := p.indexLocked(b)
	if err != nil {
		return err
	}
	if p.owners[i] == ownerPool {
		return fmt.Errorf("バッファ %d は既にプールにあります", i)
	}
	p.owners[i] = ownerPool
	return nil
}

func (p *BufferPool) move(b *StreamBuffer, from, to bufferOwner) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	i, err := p.indexLocked(b)
	if err != nil {
		return err
	}
	if p.owners[i] != from {
		return fmt.Errorf("バッファ %d の所有者が不正です: %s (期待値 %s)", i, p.owners[i], from)
	}
	p.owners[i] = to
	return nil
}

func (p *BufferPool) indexLocked(b *StreamBuffer) (int, error) {
	if b == nil || b.id < 0 || b.id >= len(p.buffers) || p.buffers[b.id] != b {
		return 0, fmt.Errorf("このプールのバッファではありません")
	}
	return b.id, nil
}
