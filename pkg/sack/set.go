// Package sack keeps the bounded set of out-of-order byte ranges a receiver
// reports in TCP SACK options, and the queue of candidate ranges waiting to be
// reconciled against the receiver's next expected sequence number.
package sack

import (
	"github.com/google/netstack/tcpip/header"
	"github.com/google/netstack/tcpip/seqnum"
)

// MaxBlocks is the most blocks a Set holds.
const MaxBlocks = 4

// InsertResult describes what an Insert did to the set.
type InsertResult struct {
	// Ignored is set for empty or inverted blocks.
	Ignored bool
	// Duplicate is set when the block equals an existing entry.
	Duplicate bool
	// Covered is set when an existing entry strictly contains the block.
	// The set is left unchanged and the entry is listed in Overlaps.
	Covered bool
	// Overlaps lists the entries that overlapped the block. They are removed
	// unless Covered is set.
	Overlaps []header.SACKBlock
	// Merges counts adjacency merges.
	Merges int
	// Evicted lists tail entries dropped to respect MaxBlocks.
	Evicted []header.SACKBlock
}

// Set is an ordered collection of at most MaxBlocks non-overlapping blocks.
// The most recently inserted or merged block is at the front. A Set is not
// safe for concurrent use.
type Set struct {
	blocks []header.SACKBlock
}

// Insert pushes b to the front and merges it with entries it is exactly
// adjacent to. Only the front entry is compared against the others; after a
// merge the scan restarts from the new front. Entries that overlap b are
// replaced by it, except an entry that already contains b, which is kept
// so that reinserting part of a merged block does not shrink it.
func (s *Set) Insert(b header.SACKBlock) InsertResult {
	var res InsertResult
	if !b.Start.LessThan(b.End) {
		res.Ignored = true
		return res
	}
	for _, c := range s.blocks {
		if c == b {
			res.Duplicate = true
			return res
		}
		if contains(c, b) {
			res.Covered = true
			res.Overlaps = []header.SACKBlock{c}
			return res
		}
	}

	blocks := make([]header.SACKBlock, 0, len(s.blocks)+1)
	blocks = append(blocks, b)
	for _, c := range s.blocks {
		if overlaps(c, b) {
			res.Overlaps = append(res.Overlaps, c)
			continue
		}
		blocks = append(blocks, c)
	}

	for merged := true; merged; {
		merged = false
		f := blocks[0]
		for i := 1; i < len(blocks); i++ {
			c := blocks[i]
			if f.Start != c.End && f.End != c.Start {
				continue
			}
			u := header.SACKBlock{Start: f.Start, End: f.End}
			if c.Start.LessThan(u.Start) {
				u.Start = c.Start
			}
			if u.End.LessThan(c.End) {
				u.End = c.End
			}
			rest := append(blocks[1:i:i], blocks[i+1:]...)
			blocks = append([]header.SACKBlock{u}, rest...)
			res.Merges++
			merged = true
			break
		}
	}

	for len(blocks) > MaxBlocks {
		res.Evicted = append(res.Evicted, blocks[len(blocks)-1])
		blocks = blocks[:len(blocks)-1]
	}
	s.blocks = blocks
	return res
}

// Render returns a copy of the first min(n, Len()) blocks.
func (s *Set) Render(n int) []header.SACKBlock {
	if n > len(s.blocks) {
		n = len(s.blocks)
	}
	if n <= 0 {
		return nil
	}
	out := make([]header.SACKBlock, n)
	copy(out, s.blocks[:n])
	return out
}

// Blocks returns a copy of every block, front first.
func (s *Set) Blocks() []header.SACKBlock {
	return s.Render(len(s.blocks))
}

// Len returns the number of blocks.
func (s *Set) Len() int { return len(s.blocks) }

// Mirror replaces the contents with the given snapshot, front first. Empty
// blocks are skipped and at most MaxBlocks are kept. The snapshot is taken
// as is, adjacent entries are not merged.
func (s *Set) Mirror(list []header.SACKBlock) {
	s.blocks = s.blocks[:0]
	for _, b := range list {
		if len(s.blocks) == MaxBlocks {
			break
		}
		if b.Start.LessThan(b.End) {
			s.blocks = append(s.blocks, b)
		}
	}
}

// Trim drops blocks that end at or before nextRx and cuts the start of a
// block that straddles it. It returns the number of blocks dropped.
func (s *Set) Trim(nextRx seqnum.Value) int {
	kept := s.blocks[:0]
	dropped := 0
	for _, b := range s.blocks {
		if !nextRx.LessThan(b.End) {
			dropped++
			continue
		}
		if b.Start.LessThan(nextRx) {
			b.Start = nextRx
		}
		kept = append(kept, b)
	}
	s.blocks = kept
	return dropped
}

func contains(outer, inner header.SACKBlock) bool {
	return !inner.Start.LessThan(outer.Start) && !outer.End.LessThan(inner.End)
}

func overlaps(a, b header.SACKBlock) bool {
	return a.Start.LessThan(b.End) && b.Start.LessThan(a.End)
}
