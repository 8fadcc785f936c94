package broadcast

// Topic addressing is the compatibility-critical wire contract:
//
//	room/{roomId}        every message event for the room
//	user/{userId}/rooms  membership and new-room notifications
//	user/{userId}/unread unread counter deltas
//
// Subscribers present a capability token whose claims enumerate the topics
// they may attach to; TopicsFor computes that entitlement set.

func RoomTopic(roomID string) string { return "room/" + roomID }

func UserRoomsTopic(userID string) string { return "user/" + userID + "/rooms" }

func UserUnreadTopic(userID string) string { return "user/" + userID + "/unread" }

// TopicsFor returns every topic the user is entitled to: one per visible
// room plus the two personal topics.
func TopicsFor(userID string, roomIDs []string) []string {
	topics := make([]string, 0, len(roomIDs)+2)
	for _, id := range roomIDs {
		topics = append(topics, RoomTopic(id))
	}
	topics = append(topics, UserRoomsTopic(userID), UserUnreadTopic(userID))
	return topics
}
