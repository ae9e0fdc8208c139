package tabulation

// Me is the signed-in user as reported by the identity provider.
type Me struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Roles     []string `json:"roles"`
}

func (m Me) Name() string {
	switch {
	case m.FirstName == "":
		return m.LastName
	case m.LastName == "":
		return m.FirstName
	}
	return m.FirstName + " " + m.LastName
}

// RefereeEvent is an event the signed-in user referees, with the teams and
// tables they may score.
type RefereeEvent struct {
	Event
	RefereeID string  `json:"refereeId"`
	Teams     []Team  `json:"teams"`
	Tables    []Table `json:"tables"`
	IsCurrent bool    `json:"isCurrent"`
}

// Identity is what the tabulation workflow needs to know about the referee.
type Identity struct {
	RefereeID   string
	RefereeName string
	RefereeRole string
	Event       Event
}

// ChooseEvent picks the only event, or the single current one when there are several.
func ChooseEvent(events []RefereeEvent) (RefereeEvent, bool) {
	if len(events) == 1 {
		return events[0], true
	}
	var chosen RefereeEvent
	n := 0
	for _, e := range events {
		if e.IsCurrent {
			chosen = e
			n++
		}
	}
	return chosen, n == 1
}

// SeasonInfo is one entry of the public seasons listing.
type SeasonInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Year int    `json:"year"`
}
