package logbuf

import (
	"fmt"
	"testing"

	"github.com/betbot/botdash/internal/domain"
)

func entry(i int) domain.LogEntry {
	return domain.LogEntry{ID: fmt.Sprintf("log-%d", i), BotID: "b1", Message: fmt.Sprintf("m%d", i)}
}

func TestRing_EvictsOldestAtCapacity(t *testing.T) {
	r := New(DefaultCapacity)
	for i := 0; i < 501; i++ {
		evicted := r.PushFront(entry(i))
		if evicted != (i == 500) {
			t.Fatalf("第 %d 条插入的淘汰标记错误: %v", i, evicted)
		}
	}
	if r.Len() != 500 {
		t.Fatalf("期望长度 500，得到 %d", r.Len())
	}
	entries := r.Entries()
	if entries[0].ID != "log-500" {
		t.Errorf("最新的一条应在头部，得到 %s", entries[0].ID)
	}
	if entries[len(entries)-1].ID != "log-1" {
		t.Errorf("尾部应为第二旧的一条，得到 %s", entries[len(entries)-1].ID)
	}
	for _, e := range entries {
		if e.ID == "log-0" {
			t.Fatalf("最旧的一条应已被淘汰")
		}
	}
}

func TestRing_NeverExceedsCapacity(t *testing.T) {
	for _, capacity := range []int{1, 3, 7} {
		r := New(capacity)
		for i := 0; i < 50; i++ {
			r.PushFront(entry(i))
			if r.Len() > capacity {
				t.Fatalf("容量 %d 被突破: %d", capacity, r.Len())
			}
			first, _ := r.At(0)
			if first.ID != entry(i).ID {
				t.Fatalf("At(0) 应为最新条目")
			}
		}
	}
}

func TestRing_ReplaceThenAppend(t *testing.T) {
	r := New(3)
	r.PushFront(entry(100))
	r.Replace([]domain.LogEntry{entry(9), entry(8), entry(7), entry(6)})

	if r.Len() != 3 {
		t.Fatalf("替换后长度应被截断到容量，得到 %d", r.Len())
	}
	r.PushFront(entry(10))
	got := r.Entries()
	want := []string{"log-10", "log-9", "log-8"}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("位置 %d 期望 %s，得到 %s", i, id, got[i].ID)
		}
	}

	r.Replace(nil)
	if r.Len() != 0 || len(r.Entries()) != 0 {
		t.Errorf("替换为空后应清空")
	}
	if _, ok := r.At(0); ok {
		t.Errorf("空缓冲区 At(0) 应返回 false")
	}
}

func TestRing_Contains(t *testing.T) {
	r := New(2)
	r.PushFront(entry(0))
	r.PushFront(entry(1))
	if !r.Contains("log-0") || !r.Contains("log-1") {
		t.Fatalf("已插入的条目应能查到")
	}
	r.PushFront(entry(2))
	if r.Contains("log-0") {
		t.Errorf("被淘汰的条目不应再被查到")
	}
	if r.Contains("missing") {
		t.Errorf("不存在的 id 不应命中")
	}
}
