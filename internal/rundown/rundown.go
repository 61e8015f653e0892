// Package rundown models the user's ordered specification of a
// highlight reel: which plays appear, which half-inning transitions
// separate them, and the optional title card up front.
package rundown

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dugoutlabs/hap/internal/haperr"
)

// FeedType identifies which broadcast feed a clip was cut from.
type FeedType string

const (
	FeedNetwork FeedType = "NETWORK"
	FeedCMS     FeedType = "CMS"
	FeedHome    FeedType = "HOME"
	FeedAway    FeedType = "AWAY"
)

// KnownFeeds lists every accepted feed type.
var KnownFeeds = []FeedType{FeedNetwork, FeedCMS, FeedHome, FeedAway}

// Valid reports whether the feed type is one of the known feeds.
func (f FeedType) Valid() bool {
	for _, k := range KnownFeeds {
		if f == k {
			return true
		}
	}
	return false
}

// Half is the top or bottom of an inning.
type Half string

const (
	HalfTop Half = "top"
	HalfBot Half = "bot"
)

// Valid reports whether the half is top or bot.
func (h Half) Valid() bool {
	return h == HalfTop || h == HalfBot
}

// Clip is one self-contained video with its own audio, typically a
// single at-bat. Feed is immutable per instance; switching feeds
// produces a new Clip whose transcript state starts fresh.
type Clip struct {
	ID             string     `json:"id"`
	Source         string     `json:"source"`
	Feed           FeedType   `json:"feed"`
	AvailableFeeds []FeedType `json:"available_feeds,omitempty"`
	Duration       float64    `json:"duration,omitempty"`
}

// SwitchFeed returns a copy of the clip on another feed with the given
// source URL. Because transcripts are keyed by source URL, the new clip
// carries no transcription state from the old feed.
func (c Clip) SwitchFeed(feed FeedType, source string) (Clip, error) {
	if !feed.Valid() {
		return Clip{}, haperr.Validationf("feed", "unknown feed %q", feed)
	}
	if len(c.AvailableFeeds) > 0 {
		found := false
		for _, f := range c.AvailableFeeds {
			if f == feed {
				found = true
				break
			}
		}
		if !found {
			return Clip{}, haperr.Validationf("feed", "feed %q not available for clip %s", feed, c.ID)
		}
	}
	next := c
	next.Feed = feed
	next.Source = source
	return next, nil
}

// TransitionKey names one pre-rendered half-inning transition.
type TransitionKey struct {
	Half   Half `json:"half"`
	Inning int  `json:"inning"`
}

// String renders the key in its canonical "top-3" form.
func (k TransitionKey) String() string {
	return fmt.Sprintf("%s-%d", k.Half, k.Inning)
}

// Filename returns the pre-rendered transition's file name.
func (k TransitionKey) Filename() string {
	return k.String() + ".mp4"
}

// Valid reports whether the key names a renderable transition.
func (k TransitionKey) Valid() bool {
	return k.Half.Valid() && k.Inning >= 1 && k.Inning <= 9
}

// ParseTransitionKey parses the canonical "top-3" form.
func ParseTransitionKey(s string) (TransitionKey, error) {
	var half Half
	var inning int
	if _, err := fmt.Sscanf(s, "top-%d", &inning); err == nil {
		half = HalfTop
	} else if _, err := fmt.Sscanf(s, "bot-%d", &inning); err == nil {
		half = HalfBot
	} else {
		return TransitionKey{}, haperr.Validationf("transition", "unparseable key %q", s)
	}
	key := TransitionKey{Half: half, Inning: inning}
	if !key.Valid() {
		return TransitionKey{}, haperr.Validationf("transition", "key %q outside top/bot 1-9", s)
	}
	// Sscanf tolerates trailing input; only the canonical form names a file.
	if key.String() != s {
		return TransitionKey{}, haperr.Validationf("transition", "unparseable key %q", s)
	}
	return key, nil
}

// Play is one clip plus the editor's segment selection for it.
type Play struct {
	Clip      Clip  `json:"clip"`
	Selection []int `json:"selection"`

	// Half and Inning locate the play in the game when known; they tie
	// the play to its transition for ordering checks.
	Half   Half `json:"half,omitempty"`
	Inning int  `json:"inning,omitempty"`
}

// TitleCard opens the reel with the first moments of an external
// highlight video.
type TitleCard struct {
	SourceURL string `json:"source_url"`
}

// ItemType discriminates rundown item variants.
type ItemType string

const (
	ItemPlay       ItemType = "play"
	ItemTransition ItemType = "transition"
	ItemTitleCard  ItemType = "title_card"
)

// Item is one positional entry in the rundown. Exactly one of Play,
// Transition and TitleCard is set, matching Type.
type Item struct {
	Type       ItemType
	Play       *Play
	Transition *TransitionKey
	TitleCard  *TitleCard
}

// Label names the item for per-item status reporting.
func (it Item) Label() string {
	switch it.Type {
	case ItemPlay:
		if it.Play != nil {
			return "play:" + it.Play.Clip.ID
		}
	case ItemTransition:
		if it.Transition != nil {
			return "transition:" + it.Transition.String()
		}
	case ItemTitleCard:
		return "title_card"
	}
	return string(it.Type)
}

type itemJSON struct {
	Type       ItemType       `json:"type"`
	Play       *Play          `json:"play,omitempty"`
	Transition *TransitionKey `json:"transition,omitempty"`
	TitleCard  *TitleCard     `json:"title_card,omitempty"`
}

// UnmarshalJSON decodes the tagged item variant.
func (it *Item) UnmarshalJSON(data []byte) error {
	var raw itemJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	it.Type = raw.Type
	it.Play = raw.Play
	it.Transition = raw.Transition
	it.TitleCard = raw.TitleCard
	return nil
}

// MarshalJSON encodes the tagged item variant.
func (it Item) MarshalJSON() ([]byte, error) {
	return json.Marshal(itemJSON{
		Type:       it.Type,
		Play:       it.Play,
		Transition: it.Transition,
		TitleCard:  it.TitleCard,
	})
}

// Rundown is the ordered sequence the assembled reel follows.
type Rundown struct {
	GameID int    `json:"game_id"`
	Items  []Item `json:"items"`
}

// Plays returns the rundown's plays in order.
func (r *Rundown) Plays() []*Play {
	var plays []*Play
	for i := range r.Items {
		if r.Items[i].Type == ItemPlay && r.Items[i].Play != nil {
			plays = append(plays, r.Items[i].Play)
		}
	}
	return plays
}

// Load reads and validates a rundown from a JSON file.
func Load(path string) (*Rundown, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening rundown: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads and validates a rundown from JSON.
func Parse(r io.Reader) (*Rundown, error) {
	var rd Rundown
	if err := json.NewDecoder(r).Decode(&rd); err != nil {
		return nil, haperr.Validationf("rundown", "invalid JSON: %v", err)
	}
	if err := rd.Validate(); err != nil {
		return nil, err
	}
	return &rd, nil
}

// Validate checks the structural invariants: item shapes match their
// type tags, at most one title card sits at position 0, transition keys
// are renderable, plays reference known feeds with sane selections, and
// a transition for a half-inning precedes every play of that
// half-inning.
func (r *Rundown) Validate() error {
	if len(r.Items) == 0 {
		return haperr.Validationf("items", "rundown is empty")
	}

	type halfInning struct {
		half   Half
		inning int
	}
	playsSeen := make(map[halfInning]int)

	for i, item := range r.Items {
		field := fmt.Sprintf("items[%d]", i)
		switch item.Type {
		case ItemTitleCard:
			if item.TitleCard == nil {
				return haperr.Validationf(field, "title_card item without title_card body")
			}
			if i != 0 {
				return haperr.Validationf(field, "title card allowed only at position 0")
			}
			if item.TitleCard.SourceURL == "" {
				return haperr.Validationf(field, "title card needs a source_url")
			}

		case ItemTransition:
			if item.Transition == nil {
				return haperr.Validationf(field, "transition item without transition body")
			}
			if !item.Transition.Valid() {
				return haperr.Validationf(field, "transition key %q outside top/bot 1-9", item.Transition.String())
			}
			key := halfInning{item.Transition.Half, item.Transition.Inning}
			if pos, seen := playsSeen[key]; seen {
				return haperr.Validationf(field,
					"transition %s must precede the plays of its half-inning (play at position %d)",
					item.Transition.String(), pos)
			}

		case ItemPlay:
			if item.Play == nil {
				return haperr.Validationf(field, "play item without play body")
			}
			p := item.Play
			if p.Clip.ID == "" {
				return haperr.Validationf(field, "play clip needs an id")
			}
			// Clip ids become file names inside the working directory.
			if strings.ContainsAny(p.Clip.ID, `/\`) || p.Clip.ID == "." || p.Clip.ID == ".." {
				return haperr.Validationf(field, "play clip id %q is not a usable file name", p.Clip.ID)
			}
			if p.Clip.Source == "" {
				return haperr.Validationf(field, "play clip %s needs a source", p.Clip.ID)
			}
			if !p.Clip.Feed.Valid() {
				return haperr.Validationf(field, "play clip %s has unknown feed %q", p.Clip.ID, p.Clip.Feed)
			}
			if p.Clip.Duration < 0 {
				return haperr.Validationf(field, "play clip %s has negative duration", p.Clip.ID)
			}
			if len(p.Selection) == 0 {
				return haperr.Validationf(field, "play clip %s has an empty selection", p.Clip.ID)
			}
			for _, idx := range p.Selection {
				if idx < 0 {
					return haperr.Validationf(field, "play clip %s selects negative segment index %d", p.Clip.ID, idx)
				}
			}
			if p.Half != "" || p.Inning != 0 {
				if !p.Half.Valid() {
					return haperr.Validationf(field, "play clip %s has unknown half %q", p.Clip.ID, p.Half)
				}
				if p.Inning < 1 {
					return haperr.Validationf(field, "play clip %s has inning %d", p.Clip.ID, p.Inning)
				}
				key := halfInning{p.Half, p.Inning}
				if _, seen := playsSeen[key]; !seen {
					playsSeen[key] = i
				}
			}

		default:
			return haperr.Validationf(field, "unknown item type %q", item.Type)
		}
	}
	return nil
}
