package engine

import (
	"time"

	"github.com/verdantiq/facility-assessment/internal/answer"
)

// UpdateAnswer routes a value (and optional free-text context) into the
// correct partition. Clearing (writing an empty sentinel) is as valid as
// a populated value. The write also timestamps the answer for last-answered
// tracking and lazily records when the current step was first touched.
func (e *Engine) UpdateAnswer(questionID string, v answer.Value, context string) error {
	if e.state != StateReady {
		return ErrNotReady
	}

	q, inSchema := e.wizard.Lookup(questionID)
	if inSchema {
		if err := answer.ValidateValue(q, v); err != nil {
			return err
		}
	}

	// Room details track the room-count answer: both writes renormalize.
	if questionID == answer.RoomDetailsKey {
		v = answer.RoomList(answer.NormalizeRooms(v.Rooms(), e.roomCount()))
	}

	target := e.sessionAnswers
	if answer.IsRecordField(questionID) {
		target = e.recordAnswers
	}
	target[questionID] = v
	if context != "" && (!inSchema || !q.DisableContext) {
		target[answer.ContextKey(questionID)] = answer.String(context)
	}

	if questionID == answer.NumRoomsKey {
		e.syncRoomDetails()
	}

	now := e.now()
	e.answeredAt[questionID] = now
	if step := e.wizard.StepAt(e.currentStep); step != nil {
		if _, touched := e.stepTouched[step.ID]; !touched {
			e.stepTouched[step.ID] = now
		}
	}
	return nil
}

// roomCount reads the current num_rooms answer (0 when unanswered).
func (e *Engine) roomCount() int {
	v, ok := e.sessionAnswers[answer.NumRoomsKey]
	if !ok || v.Kind() != answer.KindNumber {
		return 0
	}
	return int(v.Num())
}

// syncRoomDetails pads or truncates the room-detail list so its length
// always equals the room-count answer.
func (e *Engine) syncRoomDetails() {
	count := e.roomCount()
	existing, ok := e.sessionAnswers[answer.RoomDetailsKey]
	if !ok && count == 0 {
		return
	}
	var rooms []answer.Room
	if ok {
		rooms = existing.Rooms()
	}
	e.sessionAnswers[answer.RoomDetailsKey] = answer.RoomList(answer.NormalizeRooms(rooms, count))
}

// MergedAnswers returns a fresh merged view of both partitions. The
// partitioned maps are never exposed or mutated through it.
func (e *Engine) MergedAnswers() answer.Set {
	return answer.Merged(e.recordAnswers, e.sessionAnswers)
}

// lastAnswered returns the question id with the most recent write timestamp.
func (e *Engine) lastAnswered() string {
	var latest time.Time
	var id string
	for k, t := range e.answeredAt {
		if t.After(latest) {
			latest = t
			id = k
		}
	}
	return id
}
