package model

// Identity is the authenticated user as the sync core sees it.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

func (i Identity) IsZero() bool { return i.ID == "" }

// Collection names a tracked record store table.
type Collection string

const (
	CollectionTasks         Collection = "tasks"
	CollectionNotifications Collection = "notifications"
	CollectionProfiles      Collection = "profiles"
)

// Collections lists every tracked collection in sync order.
var Collections = []Collection{CollectionTasks, CollectionNotifications, CollectionProfiles}

func ParseCollection(s string) (Collection, bool) {
	for _, c := range Collections {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}
