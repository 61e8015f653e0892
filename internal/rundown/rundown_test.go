package rundown

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dugoutlabs/hap/internal/haperr"
)

func playItem(id string, selection ...int) Item {
	return Item{
		Type: ItemPlay,
		Play: &Play{
			Clip: Clip{
				ID:     id,
				Source: "https://example.com/" + id + ".mp4",
				Feed:   FeedNetwork,
			},
			Selection: selection,
		},
	}
}

func transitionItem(half Half, inning int) Item {
	return Item{
		Type:       ItemTransition,
		Transition: &TransitionKey{Half: half, Inning: inning},
	}
}

func TestRundown_ValidateAccepts(t *testing.T) {
	rd := &Rundown{
		GameID: 746321,
		Items: []Item{
			{Type: ItemTitleCard, TitleCard: &TitleCard{SourceURL: "https://example.com/recap.mp4"}},
			transitionItem(HalfTop, 1),
			playItem("p1", 2, 3),
			playItem("p2", 0),
			transitionItem(HalfBot, 1),
			playItem("p3", 1),
		},
	}
	assert.NoError(t, rd.Validate())
}

func TestRundown_Validate(t *testing.T) {
	tests := []struct {
		name  string
		items []Item
	}{
		{
			name:  "empty rundown",
			items: nil,
		},
		{
			name: "title card not first",
			items: []Item{
				playItem("p1", 0),
				{Type: ItemTitleCard, TitleCard: &TitleCard{SourceURL: "https://example.com/r.mp4"}},
			},
		},
		{
			name: "title card without source",
			items: []Item{
				{Type: ItemTitleCard, TitleCard: &TitleCard{}},
			},
		},
		{
			name: "transition inning out of range",
			items: []Item{
				transitionItem(HalfTop, 10),
				playItem("p1", 0),
			},
		},
		{
			name: "transition bad half",
			items: []Item{
				transitionItem(Half("mid"), 3),
				playItem("p1", 0),
			},
		},
		{
			name: "play without clip source",
			items: []Item{
				{Type: ItemPlay, Play: &Play{Clip: Clip{ID: "p1", Feed: FeedNetwork}, Selection: []int{0}}},
			},
		},
		{
			name: "play with unknown feed",
			items: []Item{
				{Type: ItemPlay, Play: &Play{
					Clip:      Clip{ID: "p1", Source: "https://example.com/p1.mp4", Feed: FeedType("RADIO")},
					Selection: []int{0},
				}},
			},
		},
		{
			name: "play with empty selection",
			items: []Item{
				playItem("p1"),
			},
		},
		{
			name: "play clip id with path separator",
			items: []Item{
				playItem("../sneaky", 0),
			},
		},
		{
			name: "play with negative selection index",
			items: []Item{
				playItem("p1", 2, -1),
			},
		},
		{
			name: "unknown item type",
			items: []Item{
				{Type: ItemType("break")},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rd := &Rundown{GameID: 1, Items: tt.items}
			err := rd.Validate()
			require.Error(t, err)
			assert.True(t, haperr.IsValidation(err), "want ValidationError, got %T", err)
		})
	}
}

func TestRundown_TransitionMustPrecedeItsPlays(t *testing.T) {
	withHalf := playItem("p1", 0)
	withHalf.Play.Half = HalfTop
	withHalf.Play.Inning = 3

	rd := &Rundown{
		GameID: 1,
		Items: []Item{
			withHalf,
			transitionItem(HalfTop, 3),
		},
	}
	err := rd.Validate()
	require.Error(t, err)
	assert.True(t, haperr.IsValidation(err))

	// Same items in broadcast order pass.
	rd.Items = []Item{rd.Items[1], rd.Items[0]}
	assert.NoError(t, rd.Validate())
}

func TestRundown_PlayWithoutHalfUnconstrained(t *testing.T) {
	rd := &Rundown{
		GameID: 1,
		Items: []Item{
			playItem("p1", 0),
			transitionItem(HalfTop, 3),
			playItem("p2", 1),
		},
	}
	assert.NoError(t, rd.Validate())
}

func TestParse_RoundTrip(t *testing.T) {
	input := `{
		"game_id": 746321,
		"items": [
			{"type": "title_card", "title_card": {"source_url": "https://example.com/recap.mp4"}},
			{"type": "transition", "transition": {"half": "top", "inning": 1}},
			{"type": "play", "play": {
				"clip": {"id": "at-bat-1", "source": "https://example.com/ab1.mp4", "feed": "NETWORK"},
				"selection": [2, 3, 4],
				"half": "top",
				"inning": 1
			}}
		]
	}`

	rd, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rd.Items, 3)
	assert.Equal(t, 746321, rd.GameID)
	assert.Equal(t, ItemTitleCard, rd.Items[0].Type)
	assert.Equal(t, "top-1", rd.Items[1].Transition.String())

	plays := rd.Plays()
	require.Len(t, plays, 1)
	assert.Equal(t, "at-bat-1", plays[0].Clip.ID)
	assert.Equal(t, []int{2, 3, 4}, plays[0].Selection)
}

func TestParse_InvalidJSON(t *testing.T) {
	_, err := Parse(strings.NewReader("{not json"))
	require.Error(t, err)
	assert.True(t, haperr.IsValidation(err))
}

func TestTransitionKey(t *testing.T) {
	key := TransitionKey{Half: HalfBot, Inning: 7}
	assert.Equal(t, "bot-7", key.String())
	assert.Equal(t, "bot-7.mp4", key.Filename())

	parsed, err := ParseTransitionKey("bot-7")
	require.NoError(t, err)
	assert.Equal(t, key, parsed)

	_, err = ParseTransitionKey("mid-7")
	assert.Error(t, err)
	_, err = ParseTransitionKey("top-0")
	assert.Error(t, err)
	_, err = ParseTransitionKey("top-10")
	assert.Error(t, err)
	_, err = ParseTransitionKey("top-3x")
	assert.Error(t, err)
}

func TestClip_SwitchFeed(t *testing.T) {
	clip := Clip{
		ID:             "at-bat-9",
		Source:         "https://example.com/network.mp4",
		Feed:           FeedNetwork,
		AvailableFeeds: []FeedType{FeedNetwork, FeedHome},
	}

	switched, err := clip.SwitchFeed(FeedHome, "https://example.com/home.mp4")
	require.NoError(t, err)
	assert.Equal(t, FeedHome, switched.Feed)
	assert.Equal(t, "https://example.com/home.mp4", switched.Source)
	// The original instance is untouched.
	assert.Equal(t, FeedNetwork, clip.Feed)

	_, err = clip.SwitchFeed(FeedAway, "https://example.com/away.mp4")
	require.Error(t, err)
	assert.True(t, haperr.IsValidation(err))
}

func TestItem_Label(t *testing.T) {
	assert.Equal(t, "play:p1", playItem("p1", 0).Label())
	assert.Equal(t, "transition:top-2", transitionItem(HalfTop, 2).Label())
	assert.Equal(t, "title_card", Item{Type: ItemTitleCard, TitleCard: &TitleCard{SourceURL: "x"}}.Label())
}
