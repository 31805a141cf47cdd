package bracket

// PackRooms partitions participants, in the given order, into rooms of at most capacity.
// Every round packs from scratch. The participants are cut into chunks of capacity; a
// trailing single participant always joins the last room, and a trailing short chunk
// joins it when the room stays within capacity+1. Every returned room is a fresh slice.
func PackRooms(participants []string, capacity int) [][]string {
	if capacity < 1 {
		capacity = 1
	}
	rooms := make([][]string, 0, len(participants)/capacity+1)

	rest := participants
	for len(rest) > 0 {
		n := min(capacity, len(rest))
		chunk := rest[:n]
		rest = rest[n:]

		if n < capacity && len(rooms) > 0 {
			last := len(rooms) - 1
			if n == 1 || len(rooms[last])+n <= capacity+1 {
				rooms[last] = append(rooms[last], chunk...)
				continue
			}
		}
		rooms = append(rooms, append([]string(nil), chunk...))
	}
	return rooms
}
