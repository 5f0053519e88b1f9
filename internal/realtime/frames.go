// Package realtime pushes queue changes to connected staff, doctor and
// patient sockets, and accepts queue commands from staff sockets.
package realtime

import (
	"time"

	"github.com/wolfman30/clinic-queue/internal/queue"
)

// Rooms a connection can join. Patients join UserRoom(patientID).
const (
	RoomQueue  = "queue"
	RoomDoctor = "doctor"
	userPrefix = "user:"
)

// UserRoom names the room of one patient.
func UserRoom(patientID string) string {
	return userPrefix + patientID
}

// Frame types sent to clients.
const (
	FrameQueueUpdated          = "queue-updated"
	FramePatientCalled         = "patient-called"
	FramePatientCalledDoctor   = "patient-called-doctor"
	FrameYourTurn              = "your-turn"
	FrameEmergencyUpdated      = "emergency-updated"
	FrameConsultationCompleted = "consultation-completed"
	FramePositionUpdated       = "position-updated"
	FrameJoined                = "joined"
	FramePong                  = "pong"
	FrameError                 = "error"
)

// Frame is one outbound websocket message.
type Frame struct {
	Type          string         `json:"type"`
	Room          string         `json:"room,omitempty"`
	Event         string         `json:"event,omitempty"`
	Token         *queue.Token   `json:"token,omitempty"`
	Queue         []*queue.Token `json:"queue,omitempty"`
	Position      int            `json:"position,omitempty"`
	EstimatedWait *int           `json:"estimated_wait_minutes,omitempty"`
	Command       string         `json:"command,omitempty"`
	Error         string         `json:"error,omitempty"`
	At            time.Time      `json:"at"`
}

// Delivery addresses a frame to a room.
type Delivery struct {
	Room  string
	Frame Frame
}

// Deliveries expands a queue event into the frames each room receives, in
// send order.
func Deliveries(e queue.Event) []Delivery {
	var out []Delivery
	updated := Frame{
		Type:  FrameQueueUpdated,
		Event: string(e.Type),
		Token: e.Token,
		Queue: e.Queue,
		At:    e.OccurredAt,
	}
	out = append(out,
		Delivery{Room: RoomQueue, Frame: withRoom(updated, RoomQueue)},
		Delivery{Room: RoomDoctor, Frame: withRoom(updated, RoomDoctor)},
	)

	switch e.Type {
	case queue.EventPatientCalled:
		out = append(out,
			Delivery{Room: RoomQueue, Frame: Frame{Type: FramePatientCalled, Room: RoomQueue, Token: e.Token, At: e.OccurredAt}},
			Delivery{Room: RoomDoctor, Frame: Frame{Type: FramePatientCalledDoctor, Room: RoomDoctor, Token: e.Token, At: e.OccurredAt}},
		)
		if e.Token != nil {
			room := UserRoom(e.Token.PatientID)
			out = append(out, Delivery{Room: room, Frame: Frame{Type: FrameYourTurn, Room: room, Token: e.Token, At: e.OccurredAt}})
		}
	case queue.EventEmergencyUpdated:
		out = append(out, Delivery{Room: RoomQueue, Frame: Frame{Type: FrameEmergencyUpdated, Room: RoomQueue, Token: e.Token, At: e.OccurredAt}})
	case queue.EventConsultationDone:
		out = append(out, Delivery{Room: RoomDoctor, Frame: Frame{Type: FrameConsultationCompleted, Room: RoomDoctor, Token: e.Token, At: e.OccurredAt}})
	}

	if e.Recalculated {
		for _, t := range e.Queue {
			room := UserRoom(t.PatientID)
			wait := t.EstimatedWaitTime
			out = append(out, Delivery{Room: room, Frame: Frame{
				Type:          FramePositionUpdated,
				Room:          room,
				Token:         t,
				Position:      t.CurrentPosition,
				EstimatedWait: &wait,
				At:            e.OccurredAt,
			}})
		}
	}
	return out
}

func withRoom(f Frame, room string) Frame {
	f.Room = room
	return f
}
