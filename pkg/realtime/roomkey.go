package realtime

// RoomKey identifies a multicast group. Keys are only built through the
// constructors below so the conversation-key canonicalization lives in
// exactly one place; the zero value is invalid and ignored by the router.
type RoomKey string

const (
	userRoomPrefix         = "user-"
	conversationRoomPrefix = "conversation-"
)

// UserKey is the account-wide room for a single user. Every identified
// connection belonging to that user is a member.
func UserKey(userID string) RoomKey {
	if userID == "" {
		return ""
	}
	return RoomKey(userRoomPrefix + userID)
}

// ConversationKey is the shared room for a two-party conversation. The
// participant ids are sorted lexicographically and hyphen-joined so both
// sides derive the identical key regardless of who initiates.
func ConversationKey(a, b string) RoomKey {
	if a == "" || b == "" {
		return ""
	}
	if b < a {
		a, b = b, a
	}
	return RoomKey(conversationRoomPrefix + a + "-" + b)
}

// ConversationKeyFromPair accepts an already-joined sorted pair as sent
// by clients ("u1-u2") and wraps it in the conversation room namespace.
func ConversationKeyFromPair(pair string) RoomKey {
	if pair == "" {
		return ""
	}
	return RoomKey(conversationRoomPrefix + pair)
}

func (k RoomKey) Valid() bool {
	return k != ""
}

func (k RoomKey) String() string {
	return string(k)
}
