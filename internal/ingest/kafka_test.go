package ingest

import (
	"testing"

	"github.com/segmentio/kafka-go"
)

func msg(partition int, offset int64) kafka.Message {
	return kafka.Message{Topic: Topic, Partition: partition, Offset: offset}
}

func TestCommitTrackerInOrderCompletion(t *testing.T) {
	tr := newCommitTracker()
	tr.track(msg(0, 100))
	tr.track(msg(0, 101))

	last, ok := tr.complete(msg(0, 100))
	if !ok || last.Offset != 100 {
		t.Fatalf("complete(100) = (%d, %v), want (100, true)", last.Offset, ok)
	}
	last, ok = tr.complete(msg(0, 101))
	if !ok || last.Offset != 101 {
		t.Fatalf("complete(101) = (%d, %v), want (101, true)", last.Offset, ok)
	}
}

// A later offset finishing first must not become committable: committing it
// would advance the group watermark past the earlier in-flight message,
// which would be lost after a rebalance if its handler fails.
func TestCommitTrackerHoldsOutOfOrderCompletion(t *testing.T) {
	tr := newCommitTracker()
	tr.track(msg(0, 100))
	tr.track(msg(0, 101))

	if _, ok := tr.complete(msg(0, 101)); ok {
		t.Fatal("offset 101 released for commit while 100 is still in flight")
	}

	// Once 100 completes, the contiguous run 100-101 is released as one
	// commit at the newest offset.
	last, ok := tr.complete(msg(0, 100))
	if !ok {
		t.Fatal("cursor did not advance after the gap closed")
	}
	if last.Offset != 101 {
		t.Errorf("released offset = %d, want 101", last.Offset)
	}
}

// A failed handler never completes its offset, so nothing beyond it may
// ever be committed, no matter how many later offsets finish.
func TestCommitTrackerFailureBlocksLaterOffsets(t *testing.T) {
	tr := newCommitTracker()
	for off := int64(100); off <= 103; off++ {
		tr.track(msg(0, off))
	}

	// 100's publish failed; 101-103 all succeed.
	for off := int64(101); off <= 103; off++ {
		if _, ok := tr.complete(msg(0, off)); ok {
			t.Fatalf("offset %d released for commit past failed offset 100", off)
		}
	}
}

func TestCommitTrackerPartitionsIndependent(t *testing.T) {
	tr := newCommitTracker()
	tr.track(msg(0, 100))
	tr.track(msg(1, 500))

	// Partition 0 is stalled on 100, but partition 1 commits freely.
	last, ok := tr.complete(msg(1, 500))
	if !ok || last.Partition != 1 || last.Offset != 500 {
		t.Fatalf("complete(p1, 500) = (p%d, %d, %v), want (p1, 500, true)", last.Partition, last.Offset, ok)
	}
	if _, ok := tr.complete(msg(0, 101)); ok {
		t.Error("partition 0 released an offset past its stalled cursor")
	}
}

// After a rebalance the broker redelivers from the committed watermark;
// offsets the cursor already released are duplicates and must not disturb it.
func TestCommitTrackerIgnoresRefetchedDuplicates(t *testing.T) {
	tr := newCommitTracker()
	tr.track(msg(0, 100))
	if _, ok := tr.complete(msg(0, 100)); !ok {
		t.Fatal("complete(100) should advance the cursor")
	}

	tr.track(msg(0, 101))
	if _, ok := tr.complete(msg(0, 100)); ok {
		t.Error("already-released offset reported committable again")
	}

	last, ok := tr.complete(msg(0, 101))
	if !ok || last.Offset != 101 {
		t.Errorf("complete(101) = (%d, %v), want (101, true)", last.Offset, ok)
	}
}
