// mautrix-telegram - A Matrix-Telegram puppeting bridge.
// Copyright (C) 2025 Sumner Evans
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package telegramfmt

import (
	"fmt"
)

// BodyRange is a formatting entity applied to a range of the message body.
// Offsets and lengths are in UTF-16 code units, as on the Telegram side.
type BodyRange struct {
	Start  int
	Length int
	Value  BodyRangeValue
}

// BodyRangeList is a list of formatting entities.
type BodyRangeList []BodyRange

func (b BodyRange) String() string {
	return fmt.Sprintf("%d:%d:%v", b.Start, b.Length, b.Value)
}

// End returns the end index of the range.
func (b BodyRange) End() int {
	return b.Start + b.Length
}

// Offset changes the start of the range without affecting the length.
func (b BodyRange) Offset(offset int) *BodyRange {
	b.Start += offset
	return &b
}

// TruncateStart moves the start of the range to the given index, keeping the
// end where it was.
func (b BodyRange) TruncateStart(startAt int) *BodyRange {
	if b.Start < startAt {
		b.Length -= startAt - b.Start
		b.Start = startAt
	}
	return &b
}

// TruncateEnd clamps the end of the range to the given index, keeping the
// start where it was.
func (b BodyRange) TruncateEnd(maxEnd int) *BodyRange {
	if b.End() > maxEnd {
		b.Length = maxEnd - b.Start
	}
	return &b
}

// LinkedRangeTree is a linked tree of formatting entities.
//
// Telegram entity ranges may overlap partially. The tree splits them while
// adding so that any two nodes either nest completely or don't touch at all,
// which maps directly onto nested HTML tags.
type LinkedRangeTree struct {
	Node    *BodyRange
	Sibling *LinkedRangeTree
	Child   *LinkedRangeTree
}

func ptrAdd(to **LinkedRangeTree, r *BodyRange) {
	if *to == nil {
		*to = &LinkedRangeTree{}
	}
	(*to).Add(r)
}

// Add adds the given formatting entity to this tree.
func (lrt *LinkedRangeTree) Add(r *BodyRange) {
	if lrt.Node == nil {
		lrt.Node = r
		return
	}
	lrtEnd := lrt.Node.End()
	if r.Start >= lrtEnd {
		ptrAdd(&lrt.Sibling, r.Offset(-lrtEnd))
		return
	}
	if r.End() > lrtEnd {
		// The range sticks out past this node: the tail becomes a sibling.
		ptrAdd(&lrt.Sibling, r.TruncateStart(lrtEnd).Offset(-lrtEnd))
	}
	ptrAdd(&lrt.Child, r.TruncateEnd(lrtEnd).Offset(-lrt.Node.Start))
}
