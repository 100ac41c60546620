package safe

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"
)

// Mat owns a gocv.Mat and makes Close idempotent. A finalizer releases the
// native buffer if a caller forgets to.
type Mat struct {
	mat     gocv.Mat
	isValid int32
	mu      sync.RWMutex
	id      uint64
}

var (
	nextMatID uint64
	liveMats  int64
	finalized int64
)

// LiveMats is the number of Mats created and not yet closed.
func LiveMats() int64 {
	return atomic.LoadInt64(&liveMats)
}

// FinalizedMats counts Mats released by the garbage collector instead of
// an explicit Close. A growing value points at a missing Close.
func FinalizedMats() int64 {
	return atomic.LoadInt64(&finalized)
}

// NewMat allocates a zero-filled Mat.
func NewMat(rows, cols int, matType gocv.MatType) (*Mat, error) {
	if err := ValidateDimensions(cols, rows, "NewMat"); err != nil {
		return nil, err
	}

	mat := gocv.Zeros(rows, cols, matType)
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("failed to create Mat with size %dx%d", cols, rows)
	}

	return adopt(mat), nil
}

// Wrap takes ownership of m. The caller must not close m afterwards.
func Wrap(m gocv.Mat) (*Mat, error) {
	if m.Empty() {
		m.Close()
		return nil, fmt.Errorf("cannot wrap empty Mat")
	}
	return adopt(m), nil
}

// NewMatFromMat clones src; src stays owned by the caller.
func NewMatFromMat(src gocv.Mat) (*Mat, error) {
	if src.Empty() {
		return nil, fmt.Errorf("source Mat is empty")
	}

	cloned := src.Clone()
	if cloned.Empty() {
		cloned.Close()
		return nil, fmt.Errorf("failed to clone Mat")
	}

	return adopt(cloned), nil
}

// Decode reads an encoded image (JPEG, PNG, ...) from memory.
func Decode(data []byte, flags gocv.IMReadFlag) (*Mat, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot decode empty buffer")
	}

	mat, err := gocv.IMDecode(data, flags)
	if err != nil {
		return nil, fmt.Errorf("imdecode: %w", err)
	}
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("imdecode produced an empty image from %d bytes", len(data))
	}

	return adopt(mat), nil
}

func adopt(m gocv.Mat) *Mat {
	sm := &Mat{
		mat:     m,
		isValid: 1,
		id:      atomic.AddUint64(&nextMatID, 1),
	}
	atomic.AddInt64(&liveMats, 1)
	runtime.SetFinalizer(sm, (*Mat).finalize)
	return sm
}

func (sm *Mat) IsValid() bool {
	return atomic.LoadInt32(&sm.isValid) == 1
}

func (sm *Mat) Empty() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.IsValid() {
		return true
	}
	return sm.mat.Empty()
}

func (sm *Mat) Rows() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.IsValid() {
		return 0
	}
	return sm.mat.Rows()
}

func (sm *Mat) Cols() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.IsValid() {
		return 0
	}
	return sm.mat.Cols()
}

func (sm *Mat) Channels() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.IsValid() {
		return 0
	}
	return sm.mat.Channels()
}

func (sm *Mat) Type() gocv.MatType {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.IsValid() {
		return gocv.MatTypeCV8UC1
	}
	return sm.mat.Type()
}

func (sm *Mat) Clone() (*Mat, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.IsValid() {
		return nil, fmt.Errorf("cannot clone invalid Mat")
	}
	return NewMatFromMat(sm.mat)
}

// SetPixel writes value into every channel of the pixel at (row, col).
func (sm *Mat) SetPixel(row, col int, value uint8) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.IsValid() {
		return fmt.Errorf("Mat is invalid")
	}
	if err := ValidateCoordinates(row, col, sm.mat.Rows(), sm.mat.Cols(), "SetPixel"); err != nil {
		return err
	}

	channels := sm.mat.Channels()
	if channels == 1 {
		sm.mat.SetUCharAt(row, col, value)
		return nil
	}
	for ch := 0; ch < channels; ch++ {
		sm.mat.SetUCharAt3(row, col, ch, value)
	}
	return nil
}

// Pixel reads one channel of the pixel at (row, col).
func (sm *Mat) Pixel(row, col, channel int) (uint8, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.IsValid() {
		return 0, fmt.Errorf("Mat is invalid")
	}
	if err := ValidateCoordinates(row, col, sm.mat.Rows(), sm.mat.Cols(), "Pixel"); err != nil {
		return 0, err
	}
	if err := ValidateChannel(channel, sm.mat.Channels(), "Pixel"); err != nil {
		return 0, err
	}

	if sm.mat.Channels() == 1 {
		return sm.mat.GetUCharAt(row, col), nil
	}
	return sm.mat.GetUCharAt3(row, col, channel), nil
}

// Bytes copies the raw pixel data out of the Mat.
func (sm *Mat) Bytes() []byte {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.IsValid() {
		return nil
	}
	return sm.mat.ToBytes()
}

// GetMat exposes the underlying Mat for read-only use by gocv calls.
// Writing into the returned value is not reflected if OpenCV reallocates.
func (sm *Mat) GetMat() gocv.Mat {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return sm.mat
}

// Ptr exposes the underlying Mat for in-place gocv calls such as PutText.
func (sm *Mat) Ptr() *gocv.Mat {
	return &sm.mat
}

func (sm *Mat) ID() uint64 {
	return sm.id
}

func (sm *Mat) Close() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if atomic.CompareAndSwapInt32(&sm.isValid, 1, 0) {
		sm.mat.Close()
		runtime.SetFinalizer(sm, nil)
		atomic.AddInt64(&liveMats, -1)
	}
}

func (sm *Mat) finalize() {
	if atomic.LoadInt32(&sm.isValid) == 1 {
		atomic.AddInt64(&finalized, 1)
		sm.Close()
	}
}
