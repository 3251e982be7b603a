package models

// Subscriptions is the set of followed feeds that auto-sync sweeps over.
type Subscriptions struct {
	Feeds []Feed `json:"feeds"`
}

func (s *Subscriptions) Add(feed Feed) {
	for _, f := range s.Feeds {
		if f.ID == feed.ID {
			return
		}
	}
	s.Feeds = append(s.Feeds, feed)
}

func (s *Subscriptions) Remove(feedID string) {
	for i, f := range s.Feeds {
		if f.ID == feedID {
			s.Feeds = append(s.Feeds[:i], s.Feeds[i+1:]...)
			return
		}
	}
}

// Snapshot returns a copy safe to hand to background workers.
func (s *Subscriptions) Snapshot() []Feed {
	out := make([]Feed, len(s.Feeds))
	copy(out, s.Feeds)
	return out
}
