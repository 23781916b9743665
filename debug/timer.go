package debug

import (
	"sync"
	"time"
)

// Timer 记录命名时间点，计算两个时间点之间的秒数
type Timer struct {
	mu    sync.Mutex
	marks map[string]time.Time
	now   func() time.Time
}

func NewTimer() *Timer {
	return NewTimerWithClock(time.Now)
}

// NewTimerWithClock 使用指定的时钟，便于测试
func NewTimerWithClock(now func() time.Time) *Timer {
	if now == nil {
		now = time.Now
	}
	return &Timer{marks: map[string]time.Time{}, now: now}
}

// Mark 记录当前时间
func (t *Timer) Mark(label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.marks[label] = t.now()
}

// RangeTime 返回 start 到 end 的秒数
// end 未记录时以当前时间为准，start 未记录时返回 0
func (t *Timer) RangeTime(start, end string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.marks[start]
	if !ok {
		return 0
	}
	e, ok := t.marks[end]
	if !ok {
		e = t.now()
		t.marks[end] = e
	}
	return e.Sub(s).Seconds()
}
