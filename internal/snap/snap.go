// Package snap resolves edge alignment for dragged preview surfaces.
package snap

// Rect is a surface rectangle in root-window coordinates.
type Rect struct {
	X, Y          int16
	Width, Height uint16
}

func (r Rect) Left() int16   { return r.X }
func (r Rect) Right() int16  { return r.X + int16(r.Width) }
func (r Rect) Top() int16    { return r.Y }
func (r Rect) Bottom() int16 { return r.Y + int16(r.Height) }

type candidate struct {
	offset   int16
	distance int16
}

// Resolve returns the final position for a dragged rectangle. The X and Y
// axes snap independently; within an axis the nearest candidate wins.
//
// Tie-breaking is deterministic: candidates are evaluated screen edges
// first, then the other rectangles in the order given (callers pass them in
// ascending window-id order), and per rectangle the edge pairs in the order
// left/right, right/left, left/left, right/right (top/bottom analogously).
// A strict less-than comparison keeps the earliest best candidate, so equal
// distances always resolve the same way for identical geometry.
//
// A threshold of 0 disables snapping.
func Resolve(dragged Rect, others []Rect, screen Rect, threshold uint16) (int16, int16) {
	if threshold == 0 {
		return dragged.X, dragged.Y
	}

	var bestX, bestY *candidate
	t := int16(threshold)

	// Screen boundaries first.
	check(&bestX, dragged.Left(), screen.Left(), t)
	check(&bestX, dragged.Right(), screen.Right(), t)
	check(&bestY, dragged.Top(), screen.Top(), t)
	check(&bestY, dragged.Bottom(), screen.Bottom(), t)

	for _, other := range others {
		// Snap left edge to right edge of other.
		check(&bestX, dragged.Left(), other.Right(), t)
		// Snap right edge to left edge of other.
		check(&bestX, dragged.Right(), other.Left(), t)
		// Align left edges.
		check(&bestX, dragged.Left(), other.Left(), t)
		// Align right edges.
		check(&bestX, dragged.Right(), other.Right(), t)

		// Snap top edge to bottom edge of other.
		check(&bestY, dragged.Top(), other.Bottom(), t)
		// Snap bottom edge to top edge of other.
		check(&bestY, dragged.Bottom(), other.Top(), t)
		// Align top edges.
		check(&bestY, dragged.Top(), other.Top(), t)
		// Align bottom edges.
		check(&bestY, dragged.Bottom(), other.Bottom(), t)
	}

	x, y := dragged.X, dragged.Y
	if bestX != nil {
		x += bestX.offset
	}
	if bestY != nil {
		y += bestY.offset
	}
	return x, y
}

func check(best **candidate, edge, target, threshold int16) {
	distance := edge - target
	if distance < 0 {
		distance = -distance
	}
	if distance > threshold {
		return
	}
	if *best == nil || distance < (*best).distance {
		*best = &candidate{offset: target - edge, distance: distance}
	}
}
