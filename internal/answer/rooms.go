package answer

// Room is one entry of the structured room-detail answer.
type Room struct {
	Number   int     `json:"room_number" dynamodbav:"roomNumber"`
	LengthFt float64 `json:"length_ft" dynamodbav:"lengthFt"`
	WidthFt  float64 `json:"width_ft" dynamodbav:"widthFt"`
	Purpose  string  `json:"purpose" dynamodbav:"purpose"`
}

// SquareFootage returns length × width.
func (r Room) SquareFootage() float64 {
	return r.LengthFt * r.WidthFt
}

// NormalizeRooms pads or truncates the list so its length equals count,
// preserving surviving entries and renumbering sequentially from 1. New
// entries are blank. A non-positive count yields an empty list.
func NormalizeRooms(rooms []Room, count int) []Room {
	if count < 0 {
		count = 0
	}
	out := make([]Room, 0, count)
	for i := 0; i < count && i < len(rooms); i++ {
		out = append(out, rooms[i])
	}
	for len(out) < count {
		out = append(out, Room{})
	}
	for i := range out {
		out[i].Number = i + 1
	}
	return out
}
