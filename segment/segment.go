// Package segment splits a chat message into the ordered pieces that are
// rendered to audio one by one.
package segment

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies what a Segment should be rendered as.
type Kind int

const (
	// Text is spoken through the synthesizer.
	Text Kind = iota
	// URL stands in for a link that is never read out.
	URL
	// Sound references a soundboard sound by ID.
	Sound
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case URL:
		return "url"
	case Sound:
		return "sound"
	}
	return "unknown"
}

// Segment is one unit of a message in emission order.
type Segment struct {
	Kind Kind
	// Text is the trimmed line for Text segments and the matched link for URL
	// segments.
	Text string
	// SoundID and GuildID are set for Sound segments. GuildID is zero when the
	// reference carries no guild.
	SoundID uint64
	GuildID uint64
}

var (
	urlPattern   = regexp.MustCompile(`[[:alpha:]][[:alnum:]+\-.]*?://[^\s]+`)
	soundPattern = regexp.MustCompile(`<sound:(?:(?P<guild_id>\d+):)?(?P<sound_id>\d+)>`)
	soundLine    = regexp.MustCompile(`^` + soundPattern.String() + `$`)

	soundIDIndex = soundLine.SubexpIndex("sound_id")
	guildIDIndex = soundLine.SubexpIndex("guild_id")
)

// urlMarker never survives into a Segment's text; it only carries the position
// of a link through the line split.
const urlMarker = "\x00url\x00"

// Split breaks raw into segments. Links and sound references are moved onto
// lines of their own, every line is trimmed and blank lines are dropped.
// Whitespace-only input yields no segments.
func Split(raw string) []Segment {
	var links []string
	isolated := urlPattern.ReplaceAllStringFunc(raw, func(link string) string {
		links = append(links, link)
		return "\n" + urlMarker + "\n"
	})
	isolated = soundPattern.ReplaceAllString(isolated, "\n$0\n")

	var out []Segment
	for _, line := range strings.Split(isolated, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if line == urlMarker {
			seg := Segment{Kind: URL}
			if len(links) > 0 {
				seg.Text, links = links[0], links[1:]
			}
			out = append(out, seg)
			continue
		}
		if seg, ok := parseSound(line); ok {
			out = append(out, seg)
			continue
		}
		out = append(out, Segment{Kind: Text, Text: line})
	}
	return out
}

// parseSound recognises a line that is exactly one sound reference.
func parseSound(line string) (Segment, bool) {
	m := soundLine.FindStringSubmatch(line)
	if m == nil {
		return Segment{}, false
	}
	soundID, err := strconv.ParseUint(m[soundIDIndex], 10, 64)
	if err != nil {
		return Segment{}, false
	}
	seg := Segment{Kind: Sound, Text: line, SoundID: soundID}
	if g := m[guildIDIndex]; g != "" {
		guildID, err := strconv.ParseUint(g, 10, 64)
		if err != nil {
			return Segment{}, false
		}
		seg.GuildID = guildID
	}
	return seg, true
}
