package sack

import (
	"testing"

	"github.com/google/netstack/tcpip/header"
	"github.com/google/netstack/tcpip/seqnum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blk(start, end uint32) header.SACKBlock {
	return header.SACKBlock{Start: seqnum.Value(start), End: seqnum.Value(end)}
}

func TestInsertIdempotent(t *testing.T) {
	var once, twice Set
	once.Insert(blk(100, 200))
	twice.Insert(blk(100, 200))
	res := twice.Insert(blk(100, 200))
	assert.True(t, res.Duplicate)
	assert.Equal(t, once.Blocks(), twice.Blocks())

	twice.Insert(blk(200, 300))
	before := twice.Blocks()
	twice.Insert(blk(200, 300))
	assert.Equal(t, before, twice.Blocks())
}

func TestInsertInsideExistingBlock(t *testing.T) {
	var s Set
	s.Insert(blk(300, 400))
	s.Insert(blk(100, 200))
	res := s.Insert(blk(120, 150))
	assert.False(t, res.Duplicate)
	assert.True(t, res.Covered)
	assert.Equal(t, []header.SACKBlock{blk(100, 200)}, res.Overlaps)
	assert.Equal(t, []header.SACKBlock{blk(100, 200), blk(300, 400)}, s.Blocks())

	res = s.Insert(blk(100, 200))
	assert.True(t, res.Duplicate)
	assert.False(t, res.Covered)
	assert.Empty(t, res.Overlaps)
}

func TestInsertAdjacentMerges(t *testing.T) {
	var s Set
	s.Insert(blk(100, 200))
	res := s.Insert(blk(200, 300))
	assert.Equal(t, 1, res.Merges)
	assert.Equal(t, []header.SACKBlock{blk(100, 300)}, s.Blocks())

	// Left adjacency.
	s.Insert(blk(50, 100))
	assert.Equal(t, []header.SACKBlock{blk(50, 300)}, s.Blocks())
}

func TestInsertGapThenFill(t *testing.T) {
	var s Set
	s.Insert(blk(100, 200))
	s.Insert(blk(250, 300))
	assert.Equal(t, []header.SACKBlock{blk(250, 300), blk(100, 200)}, s.Blocks())

	res := s.Insert(blk(200, 250))
	assert.Equal(t, 2, res.Merges)
	assert.Equal(t, []header.SACKBlock{blk(100, 300)}, s.Blocks())
}

func TestInsertEvictsTail(t *testing.T) {
	var s Set
	var evicted []header.SACKBlock
	for i := uint32(1); i <= 6; i++ {
		res := s.Insert(blk(i*100, i*100+10))
		evicted = append(evicted, res.Evicted...)
	}
	assert.Equal(t, MaxBlocks, s.Len())
	assert.Equal(t, []header.SACKBlock{blk(600, 610), blk(500, 510), blk(400, 410), blk(300, 310)}, s.Blocks())
	assert.Equal(t, []header.SACKBlock{blk(100, 110), blk(200, 210)}, evicted)
}

func TestRender(t *testing.T) {
	var s Set
	assert.Empty(t, s.Render(4))
	for i := uint32(1); i <= 4; i++ {
		s.Insert(blk(i*100, i*100+10))
	}
	got := s.Render(2)
	assert.Equal(t, []header.SACKBlock{blk(400, 410), blk(300, 310)}, got)
	assert.Empty(t, s.Render(0))
	assert.Len(t, s.Render(10), 4)

	got[0] = blk(1, 2)
	assert.Equal(t, blk(400, 410), s.Blocks()[0])
}

func TestInsertOverlapReplaces(t *testing.T) {
	var s Set
	s.Insert(blk(100, 200))
	s.Insert(blk(400, 500))
	res := s.Insert(blk(150, 250))
	assert.Equal(t, []header.SACKBlock{blk(100, 200)}, res.Overlaps)
	assert.Equal(t, []header.SACKBlock{blk(150, 250), blk(400, 500)}, s.Blocks())

	res = s.Insert(blk(300, 600))
	assert.Equal(t, []header.SACKBlock{blk(400, 500)}, res.Overlaps)
	assert.Equal(t, []header.SACKBlock{blk(300, 600), blk(150, 250)}, s.Blocks())
}

func TestInsertIgnoresEmpty(t *testing.T) {
	var s Set
	assert.True(t, s.Insert(blk(100, 100)).Ignored)
	assert.True(t, s.Insert(blk(200, 100)).Ignored)
	assert.Equal(t, 0, s.Len())
}

func TestInsertWraparound(t *testing.T) {
	var s Set
	s.Insert(blk(0xfffffff0, 0x10))
	s.Insert(blk(0x10, 0x20))
	assert.Equal(t, []header.SACKBlock{blk(0xfffffff0, 0x20)}, s.Blocks())
}

// Adjacent entries behind the front are not merged with each other until one
// of them is brought to the front by a later insert.
func TestInsertOnlyMergesAgainstFront(t *testing.T) {
	var s Set
	s.Mirror([]header.SACKBlock{blk(500, 600), blk(100, 200), blk(200, 300)})
	require.Equal(t, 3, s.Len())

	res := s.Insert(blk(800, 900))
	assert.Zero(t, res.Merges)
	assert.Equal(t, []header.SACKBlock{blk(800, 900), blk(500, 600), blk(100, 200), blk(200, 300)}, s.Blocks())

	res = s.Insert(blk(300, 400))
	assert.Equal(t, 2, res.Merges)
	assert.Equal(t, []header.SACKBlock{blk(100, 400), blk(800, 900), blk(500, 600)}, s.Blocks())
}

func TestMirror(t *testing.T) {
	var s Set
	s.Insert(blk(1, 2))
	s.Mirror([]header.SACKBlock{blk(10, 20), blk(30, 30), blk(40, 50), blk(60, 70), blk(80, 90), blk(100, 110)})
	assert.Equal(t, []header.SACKBlock{blk(10, 20), blk(40, 50), blk(60, 70), blk(80, 90)}, s.Blocks())

	s.Mirror(nil)
	assert.Equal(t, 0, s.Len())
}

func TestTrim(t *testing.T) {
	var s Set
	s.Insert(blk(100, 200))
	s.Insert(blk(300, 400))
	s.Insert(blk(500, 600))

	assert.Equal(t, 0, s.Trim(50))
	assert.Equal(t, 1, s.Trim(350))
	assert.Equal(t, []header.SACKBlock{blk(500, 600), blk(350, 400)}, s.Blocks())
	assert.Equal(t, 2, s.Trim(600))
	assert.Equal(t, 0, s.Len())
}
