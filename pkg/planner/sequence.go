// Look-ahead move buffering.
//
// An OperationSequence queues planner output in input order: runs of
// moves (MoveSequence), delays, and fills. A fill is a placeholder for a
// command that produced no motion; keeping fills in the stream lets the
// post-processor realign planner output with input lines one-to-one.
//
// A MoveSequence implements the firmware look-ahead: moves accumulate
// unresolved, and a backward pass over squared velocities fixes each
// move's start/cruise/end once enough trailing kinetic energy has been
// buffered to prove the values can no longer change.
//
// Copyright (C) 2026  Klipper Estimator Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import "math"

// Delay is out-of-band time added between move sequences: dwells, homing
// and heating estimates, or explicit ESTIMATOR_ADD_TIME directives.
type Delay struct {
	// Duration in seconds.
	Duration float64
	// Kind attributes the delay for per-kind accounting (KindNone when
	// unattributed).
	Kind Kind
	// Indeterminate marks delays whose real duration the estimator
	// cannot know (homing, heating); Duration is a placeholder.
	Indeterminate bool
}

// Operation is one unit of finalized planner output: a move, a delay, or
// a fill. Both pointers nil means fill.
type Operation struct {
	Move  *Move
	Delay *Delay
}

// IsFill reports a no-motion placeholder.
func (o Operation) IsFill() bool { return o.Move == nil && o.Delay == nil }

// IsMove reports a finalized move.
func (o Operation) IsMove() bool { return o.Move != nil }

// IsDelay reports an out-of-band delay.
func (o Operation) IsDelay() bool { return o.Delay != nil }

// Time returns the operation's contribution to elapsed time.
func (o Operation) Time() float64 {
	switch {
	case o.Move != nil:
		return o.Move.TotalTime()
	case o.Delay != nil:
		return o.Delay.Duration
	default:
		return 0
	}
}

type moveSequenceOp struct {
	move Move
	fill bool
}

// MoveSequence is one maximal run of moves between flush boundaries.
type MoveSequence struct {
	moves      []moveSequenceOp
	flushCount int
}

func (s *MoveSequence) addFill() {
	s.moves = append(s.moves, moveSequenceOp{fill: true})
}

func (s *MoveSequence) addMove(m Move, th *ToolheadState) {
	if m.Distance == 0 {
		s.addFill()
		return
	}
	if prev := s.lastMove(); prev != nil {
		m.applyJunction(prev, th)
	}
	s.moves = append(s.moves, moveSequenceOp{move: m})
}

func (s *MoveSequence) isEmpty() bool { return len(s.moves) == 0 }

func (s *MoveSequence) lastMove() *Move {
	for i := len(s.moves) - 1; i >= 0; i-- {
		if !s.moves[i].fill {
			return &s.moves[i].move
		}
	}
	return nil
}

type delayedMove struct {
	move       *Move
	msV2, meV2 float64
}

// process runs the look-ahead pass. Traverses the queue newest to
// oldest, determining the maximum junction velocity of each move
// assuming the toolhead comes to a complete stop after the last one.
// When partial, only moves whose velocities can no longer be raised by
// future appends are marked flushable; otherwise everything is resolved.
func (s *MoveSequence) process(partial bool) {
	if s.flushCount == len(s.moves) {
		// Nothing new to flush, bail quickly.
		return
	}

	var delayed []delayedMove

	nextEndV2 := 0.0
	nextSmoothedV2 := 0.0
	peakCruiseV2 := 0.0

	updateFlushCount := partial
	skip := 0
	if partial {
		skip = s.flushCount
	} else {
		s.flushCount = len(s.moves)
	}

	for idx := len(s.moves) - 1; idx >= skip; idx-- {
		if s.moves[idx].fill {
			continue
		}
		m := &s.moves[idx].move

		reachableStartV2 := nextEndV2 + m.MaxDV2
		startV2 := math.Min(m.MaxStartV2, reachableStartV2)
		reachableSmoothedV2 := nextSmoothedV2 + m.SmoothedDV2
		smoothedV2 := math.Min(m.MaxSmoothedV2, reachableSmoothedV2)

		if smoothedV2 < reachableSmoothedV2 {
			// This move can accelerate
			if smoothedV2+m.SmoothedDV2 > nextSmoothedV2 || len(delayed) > 0 {
				// This move can decelerate, or it is a full accel move
				// after a full decel move
				if updateFlushCount && peakCruiseV2 != 0 {
					s.flushCount = idx
					updateFlushCount = false
				}

				peakCruiseV2 = math.Min(m.MaxCruiseV2, (smoothedV2+reachableSmoothedV2)*0.5)

				if len(delayed) > 0 {
					// Propagate the peak cruise velocity to the delayed
					// moves
					if !updateFlushCount && idx < s.flushCount {
						mcV2 := peakCruiseV2
						for j := len(delayed) - 1; j >= 0; j-- {
							d := delayed[j]
							mcV2 = math.Min(mcV2, d.msV2)
							d.move.setJunction(math.Min(d.msV2, mcV2), mcV2, math.Min(d.meV2, mcV2))
						}
					}
					delayed = delayed[:0]
				}
			}

			if !updateFlushCount && idx < s.flushCount {
				cruiseV2 := minAll((startV2+reachableStartV2)*0.5, m.MaxCruiseV2, peakCruiseV2)
				m.setJunction(math.Min(startV2, cruiseV2), cruiseV2, math.Min(nextEndV2, cruiseV2))
			}
		} else {
			// Delay until the peak cruise velocity is known
			delayed = append(delayed, delayedMove{m, startV2, nextEndV2})
		}
		nextEndV2 = startV2
		nextSmoothedV2 = smoothedV2
	}

	if updateFlushCount {
		s.flushCount = 0
	}

	// Advance over leading fills so they drain immediately.
	for s.flushCount < len(s.moves) && s.moves[s.flushCount].fill {
		s.flushCount++
	}
}

func (s *MoveSequence) flush() {
	s.process(false)
}

func (s *MoveSequence) nextMove() (Operation, bool) {
	s.process(true)
	if s.flushCount == 0 || len(s.moves) == 0 {
		return Operation{}, false
	}
	op := s.moves[0]
	s.moves = s.moves[1:]
	s.flushCount--
	if op.fill {
		return Operation{}, true
	}
	m := op.move
	return Operation{Move: &m}, true
}

type operationSequenceOp struct {
	delay *Delay
	moves *MoveSequence
	// fill when both nil
}

// OperationSequence queues planner output in input order, aggregating
// consecutive moves into MoveSequences.
type OperationSequence struct {
	ops []operationSequenceOp
}

// AddDelay appends a delay, closing any open move sequence.
func (s *OperationSequence) AddDelay(d Delay) {
	s.ops = append(s.ops, operationSequenceOp{delay: &d})
}

// AddSync appends a zero-length delay: the toolhead must come to a full
// stop, and the next move opens a fresh sequence.
func (s *OperationSequence) AddSync() {
	s.AddDelay(Delay{})
}

// AddMove appends a move to the open move sequence, opening one if
// needed.
func (s *OperationSequence) AddMove(m Move, th *ToolheadState) {
	if n := len(s.ops); n > 0 && s.ops[n-1].moves != nil {
		s.ops[n-1].moves.addMove(m, th)
		return
	}
	ms := &MoveSequence{}
	ms.addMove(m, th)
	s.ops = append(s.ops, operationSequenceOp{moves: ms})
}

// AddFill appends a no-motion placeholder.
func (s *OperationSequence) AddFill() {
	if n := len(s.ops); n > 0 && s.ops[n-1].moves != nil {
		s.ops[n-1].moves.addFill()
		return
	}
	s.ops = append(s.ops, operationSequenceOp{})
}

// Flush fully resolves every buffered move sequence.
func (s *OperationSequence) Flush() {
	for _, op := range s.ops {
		if op.moves != nil {
			op.moves.flush()
		}
	}
}

// NextOperation pops the next finalized operation, if one is ready.
func (s *OperationSequence) NextOperation() (Operation, bool) {
	if len(s.ops) == 0 {
		return Operation{}, false
	}
	front := s.ops[0]
	if front.moves != nil {
		op, ok := front.moves.nextMove()
		if front.moves.isEmpty() {
			s.ops = s.ops[1:]
		}
		return op, ok
	}
	s.ops = s.ops[1:]
	if front.delay != nil {
		return Operation{Delay: front.delay}, true
	}
	return Operation{}, true
}
