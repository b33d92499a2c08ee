package bridge

import (
	"strconv"
	"testing"

	"github.com/kuuji/kdvdbridge/pkg/protocol"
)

func env(n int) protocol.Envelope {
	return protocol.Envelope{Type: protocol.TypePlayTitle, Timestamp: int64(n)}
}

func timestamps(envs []protocol.Envelope) []int64 {
	out := make([]int64, len(envs))
	for i, e := range envs {
		out[i] = e.Timestamp
	}
	return out
}

func TestQueue_FIFOAcrossWrap(t *testing.T) {
	t.Parallel()

	q := newQueue[protocol.Envelope](4)
	for i := range 3 {
		q.push(env(i))
	}
	q.pop()
	q.pop()
	for i := 3; i < 6; i++ {
		if q.push(env(i)) {
			t.Fatalf("push(%d) evicted with room left", i)
		}
	}

	got := timestamps(q.snapshot())
	want := []int64{2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("snapshot = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("snapshot = %v, want %v", got, want)
		}
	}

	head, ok := q.peek()
	if !ok || head.Timestamp != 2 {
		t.Errorf("peek() = %v, %v; want timestamp 2", head.Timestamp, ok)
	}
}

func TestQueue_BoundedEvictsOldest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		limit   int
		pushes  int
		wantLen int
		first   int64
		evicted int
	}{
		{limit: 1, pushes: 3, wantLen: 1, first: 2, evicted: 2},
		{limit: 3, pushes: 3, wantLen: 3, first: 0, evicted: 0},
		{limit: 20, pushes: 25, wantLen: 20, first: 5, evicted: 5},
		{limit: 256, pushes: 300, wantLen: 256, first: 44, evicted: 44},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.limit), func(t *testing.T) {
			t.Parallel()

			q := newQueue[protocol.Envelope](tt.limit)
			evicted := 0
			for i := range tt.pushes {
				if q.push(env(i)) {
					evicted++
				}
			}

			if q.len() != tt.wantLen {
				t.Errorf("len() = %d, want %d", q.len(), tt.wantLen)
			}
			if evicted != tt.evicted {
				t.Errorf("evictions = %d, want %d", evicted, tt.evicted)
			}

			got := timestamps(q.snapshot())
			if got[0] != tt.first {
				t.Errorf("oldest = %d, want %d", got[0], tt.first)
			}
			for i := 1; i < len(got); i++ {
				if got[i] != got[i-1]+1 {
					t.Fatalf("snapshot out of order: %v", got)
				}
			}
		})
	}
}

func TestQueue_UnboundedGrows(t *testing.T) {
	t.Parallel()

	q := newQueue[protocol.Envelope](0)
	for i := range 1000 {
		if q.push(env(i)) {
			t.Fatal("unbounded queue evicted")
		}
	}
	if q.len() != 1000 {
		t.Fatalf("len() = %d, want 1000", q.len())
	}

	for i := range 1000 {
		e, ok := q.peek()
		if !ok || e.Timestamp != int64(i) {
			t.Fatalf("peek() #%d = %d, %v", i, e.Timestamp, ok)
		}
		q.pop()
	}
	if _, ok := q.peek(); ok {
		t.Error("peek() on empty queue reported an entry")
	}
	q.pop() // no-op on empty
}

func TestQueue_PushFront(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		limit  int
		queued int
		wantOK bool
		want   []int64
	}{
		{name: "empty", limit: 4, queued: 0, wantOK: true, want: []int64{99}},
		{name: "room left", limit: 4, queued: 2, wantOK: true, want: []int64{99, 0, 1}},
		{name: "full drops returned entry", limit: 2, queued: 2, wantOK: false, want: []int64{0, 1}},
		{name: "unbounded grows", limit: 0, queued: 16, wantOK: true, want: append([]int64{99}, seq(16)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			q := newQueue[protocol.Envelope](tt.limit)
			for i := range tt.queued {
				q.push(env(i))
			}

			if ok := q.pushFront(env(99)); ok != tt.wantOK {
				t.Errorf("pushFront() = %v, want %v", ok, tt.wantOK)
			}
			got := timestamps(q.snapshot())
			if len(got) != len(tt.want) {
				t.Fatalf("snapshot = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("snapshot = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func seq(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(i)
	}
	return out
}
