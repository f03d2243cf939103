// Copyright 2025 tlcodegen Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package planner implements the bank-conflict-aware first-fit allocator
// that assigns byte offsets to on-chip tensor allocations.
package planner

import (
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/tile-lang/tlcodegen/emitter/emiterr"
)

// Geometry is the banked local-memory shape. DefaultGeometry matches the
// layout the planner's source was written against: 16 banks of 16 KiB.
type Geometry struct {
	BankNum  int
	BankSize int64
}

// DefaultGeometry is 16 x 16KiB = 256KiB of local SRAM.
var DefaultGeometry = Geometry{BankNum: 16, BankSize: 16 * 1024}

func (g Geometry) total() int64 { return int64(g.BankNum) * g.BankSize }

// Alloc is one on-chip allocation request.
type Alloc struct {
	ID    string // buffer identity; used as the error/allocation key
	Size  int64  // byte size
	First int    // first live position
	Last  int    // last live position
}

func (a Alloc) overlaps(b Alloc) bool {
	// Live intervals overlap iff neither ends before the other starts.
	return a.First <= b.Last && b.First <= a.Last
}

// placed is a planner-internal record of an already-committed allocation.
type placed struct {
	alloc Alloc
	start int64
	end   int64 // start + size
}

// Plan maps an allocation identity to its assigned byte offset.
type Plan struct {
	Offsets map[string]int64
}

// Assign runs the bank-conflict-aware first-fit algorithm over allocs and
// returns the resulting offset map, or an AllocationFailed error naming the
// first allocation with no valid placement.
//
// Grounded on MemAllocBankConflictAware::assignAddr: sort by size descending,
// try every candidate starting bank, first-fit within that bank's window,
// and among valid placements prefer the one touching the fewest
// already-placed conflicting neighbors, tie-breaking toward lower offset.
func Assign(allocs []Alloc, geom Geometry) (*Plan, error) {
	order := append([]Alloc(nil), allocs...)
	sort.SliceStable(order, func(i, j int) bool {
		return order[i].Size > order[j].Size
	})

	var committed []placed
	bankOps := make([][]Alloc, geom.BankNum) // per-bank occupancy, for conflict counting
	offsets := make(map[string]int64, len(allocs))

	for _, a := range order {
		best, ok := bestPlacement(a, committed, bankOps, geom)
		if !ok {
			return nil, &emiterr.Error{
				Kind:   emiterr.AllocationFailed,
				Buffer: a.ID,
				Detail: fmt.Sprintf("no valid placement for %d bytes in %d-byte local memory", a.Size, geom.total()),
			}
		}
		offsets[a.ID] = best
		committed = insertSorted(committed, placed{alloc: a, start: best, end: best + a.Size})
		touchBanks(bankOps, a, best, geom)
	}

	return &Plan{Offsets: offsets}, nil
}

type candidate struct {
	offset    int64
	conflicts int
}

// bestPlacement evaluates every candidate starting bank for a and returns
// the minimum-conflict, lowest-offset valid placement.
func bestPlacement(a Alloc, committed []placed, bankOps [][]Alloc, geom Geometry) (int64, bool) {
	memCrossBankNum := ceilDiv(a.Size, geom.BankSize)

	var candidates []candidate
	for i := 0; i < geom.BankNum; i++ {
		if int64(i)+memCrossBankNum >= int64(geom.BankNum) {
			continue // window would cross the last bank
		}
		windowStart := int64(i) * geom.BankSize
		windowEnd := (int64(i) + memCrossBankNum + 1) * geom.BankSize
		if windowEnd > geom.total() {
			windowEnd = geom.total()
		}

		offset, ok := searchAddr(a, committed, windowStart, windowEnd)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{
			offset:    offset,
			conflicts: conflictCount(a, offset, bankOps, geom),
		})
	}
	if len(candidates) == 0 {
		return 0, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].conflicts != candidates[j].conflicts {
			return candidates[i].conflicts < candidates[j].conflicts
		}
		return candidates[i].offset < candidates[j].offset
	})
	return candidates[0].offset, true
}

// searchAddr finds the smallest byte gap within [windowStart, windowEnd)
// that fits a.Size without overlapping any already-placed allocation whose
// live interval overlaps a's, using first-fit over committed sorted by
// start. Falls back to the offset immediately after the last conflicting
// neighbor inside the window if no earlier gap exists.
func searchAddr(a Alloc, committed []placed, windowStart, windowEnd int64) (int64, bool) {
	relevant := lo.Filter(committed, func(p placed, _ int) bool {
		return a.overlaps(p.alloc) && p.end > windowStart && p.start < windowEnd
	})
	sort.Slice(relevant, func(i, j int) bool { return relevant[i].start < relevant[j].start })

	cursor := windowStart
	for _, p := range relevant {
		if p.start-cursor >= a.Size {
			break // gap before this neighbor is big enough
		}
		if p.end > cursor {
			cursor = p.end
		}
	}
	if cursor+a.Size > windowEnd {
		return 0, false
	}
	return cursor, true
}

// conflictCount counts distinct already-placed allocations occupying a bank
// that a's placement at offset would also touch.
func conflictCount(a Alloc, offset int64, bankOps [][]Alloc, geom Geometry) int {
	firstBank := int(offset / geom.BankSize)
	lastBank := int((offset + a.Size - 1) / geom.BankSize)
	seen := make(map[string]bool)
	count := 0
	for b := firstBank; b <= lastBank && b < geom.BankNum; b++ {
		for _, other := range bankOps[b] {
			if other.ID == a.ID || seen[other.ID] {
				continue
			}
			seen[other.ID] = true
			count++
		}
	}
	return count
}

func touchBanks(bankOps [][]Alloc, a Alloc, offset int64, geom Geometry) {
	firstBank := int(offset / geom.BankSize)
	lastBank := int((offset + a.Size - 1) / geom.BankSize)
	for b := firstBank; b <= lastBank && b < geom.BankNum; b++ {
		bankOps[b] = append(bankOps[b], a)
	}
}

func insertSorted(committed []placed, p placed) []placed {
	i := sort.Search(len(committed), func(i int) bool { return committed[i].start >= p.start })
	committed = append(committed, placed{})
	copy(committed[i+1:], committed[i:])
	committed[i] = p
	return committed
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
