package model

import (
	"encoding/json"
	"time"
)

// ################################
// House layout

type DeviceView struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Kind   DeviceKind `json:"type"`
	Power  int        `json:"power"`
	Active bool       `json:"active"`
}

type RoomView struct {
	ID      string                    `json:"id"`
	Name    string                    `json:"name"`
	Devices map[DeviceKind]DeviceView `json:"devices"`
}

// HouseLayout serialises as {"bedrooms": [...], "<roomId>": {...}, ...}, which
// is the shape the browser client renders.
type HouseLayout struct {
	Bedrooms []RoomView
	Rooms    map[string]RoomView
}

const bedroomsKey = "bedrooms"

func (h HouseLayout) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(h.Rooms)+1)
	bedrooms := h.Bedrooms
	if bedrooms == nil {
		bedrooms = []RoomView{}
	}
	out[bedroomsKey] = bedrooms
	for id, room := range h.Rooms {
		out[id] = room
	}
	return json.Marshal(out)
}

func (h *HouseLayout) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	h.Rooms = make(map[string]RoomView, len(raw))
	for key, value := range raw {
		if key == bedroomsKey {
			if err := json.Unmarshal(value, &h.Bedrooms); err != nil {
				return err
			}
			continue
		}
		room := RoomView{}
		if err := json.Unmarshal(value, &room); err != nil {
			return err
		}
		h.Rooms[key] = room
	}
	return nil
}

// ################################

// ################################
// Aggregation

type ActiveDevice struct {
	ID    string     `json:"id"`
	Kind  DeviceKind `json:"type"`
	Power int        `json:"power"`
}

type DeviceRef struct {
	RoomID     string     `json:"roomId"`
	DeviceType DeviceKind `json:"deviceType"`
}

// ################################

// ################################
// Overload protection

type OverloadSettings struct {
	Threshold    int   `json:"threshold"`
	TripDelay    int64 `json:"tripDelay"` // milliseconds
	SafetyMargin int   `json:"safetyMargin"`
}

type OverloadStatus struct {
	CurrentPower    int     `json:"currentPower"`
	CurrentAmps     float64 `json:"currentAmps"`
	Threshold       int     `json:"threshold"`
	SafetyMargin    int     `json:"safetyMargin"`
	FuseTripped     bool    `json:"fuseTripped"`
	FuseTripTime    *int64  `json:"fuseTripTime"` // unix millis
	CanResetFuse    bool    `json:"canResetFuse"`
	OverloadWarning bool    `json:"overloadWarning"`
	Percentage      float64 `json:"percentage"`
	Message         string  `json:"message"`
}

type OverloadReport struct {
	Settings OverloadSettings `json:"settings"`
	Status   OverloadStatus   `json:"status"`
}

// ################################

// ################################
// Efficiency and gamification

type HistoryEntry struct {
	Timestamp   int64           `json:"timestamp"` // unix millis
	Power       int             `json:"power"`
	Score       int             `json:"score"`
	Level       EfficiencyLevel `json:"level"`
	DeviceCount int             `json:"deviceCount"`
}

type BadgeState struct {
	Unlocked bool `json:"unlocked"`
	Count    int  `json:"count"`
	Required int  `json:"required"`
}

type Badges map[BadgeKind]BadgeState

type NewBadge struct {
	Type        BadgeKind `json:"type"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
}

type SessionStats struct {
	TotalSessions      int `json:"totalSessions"`
	EfficientSessions  int `json:"efficientSessions"`
	OverloadCount      int `json:"overloadCount"`
	MaxDevicesUsed     int `json:"maxDevicesUsed"`
	CurrentDevicesUsed int `json:"currentDevicesUsed"`
}

type EfficiencyReport struct {
	Score        int             `json:"score"`
	Level        EfficiencyLevel `json:"level"`
	Badge        string          `json:"badge"`
	Badges       Badges          `json:"badges"`
	SessionStats SessionStats    `json:"sessionStats"`
	History      []HistoryEntry  `json:"history"`
}

// ################################

// ################################
// Snapshots pushed to clients

type PowerUpdate struct {
	HouseLayout     HouseLayout     `json:"houseLayout"`
	Power           int             `json:"power"`
	Current         float64         `json:"current"`
	OverloadStatus  OverloadStatus  `json:"overloadStatus"`
	EfficiencyScore int             `json:"efficiencyScore"`
	EfficiencyLevel EfficiencyLevel `json:"efficiencyLevel"`
	EfficiencyBadge string          `json:"efficiencyBadge"`
	NewBadge        *NewBadge       `json:"newBadge,omitempty"`
	NewBadges       []NewBadge      `json:"newBadges,omitempty"`
	SessionStats    SessionStats    `json:"sessionStats"`
}

type InitialData struct {
	PowerUpdate
	Badges            Badges         `json:"badges"`
	EfficiencyHistory []HistoryEntry `json:"efficiencyHistory"`
}

type FuseTripped struct {
	Tripped bool   `json:"tripped"`
	Message string `json:"message"`
}

type FuseReset struct {
	Message  string    `json:"message"`
	NewBadge *NewBadge `json:"newBadge,omitempty"`
}

type Rejection struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// ################################

// Event is emitted by the simulation after every state change.
type Event struct {
	Type    EventType     `json:"type"`
	At      time.Time     `json:"at"`
	Update  *PowerUpdate  `json:"update,omitempty"`
	Trip    *FuseTripped  `json:"trip,omitempty"`
	Reset   *FuseReset    `json:"reset,omitempty"`
	Sample  *HistoryEntry `json:"sample,omitempty"`
	Session *SessionStats `json:"session,omitempty"`
}

// Payload returns the body sent to websocket clients for this event.
func (e Event) Payload() any {
	switch e.Type {
	case EventPowerUpdate:
		return e.Update
	case EventFuseTripped:
		return e.Trip
	case EventFuseReset:
		return e.Reset
	case EventSessionClosed:
		return e.Session
	}
	return nil
}

// ################################
// Websocket envelopes

type Envelope struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

type ClientMessage struct {
	Type       CommandType `json:"type"`
	RoomID     string      `json:"roomId,omitempty"`
	DeviceType DeviceKind  `json:"deviceType,omitempty"`
	Devices    []DeviceRef `json:"devices,omitempty"`
}
