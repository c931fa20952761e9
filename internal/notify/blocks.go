package notify

import (
	"fmt"

	"github.com/mattn/go-runewidth"
	"github.com/slack-go/slack"

	"github.com/ppiankov/postcast/internal/delivery"
)

// Slack Block Kit limits.
const (
	maxHeaderWidth  = 150
	maxSectionRunes = 3000
	maxButtonLabel  = 75
	maxButtons      = 25
	maxBlocks       = 50
)

// Blocks renders msg as a header, one section per body paragraph and a
// trailing row of link buttons.
func Blocks(msg delivery.Message) []slack.Block {
	var blocks []slack.Block
	if msg.Title != "" {
		blocks = append(blocks, slack.NewHeaderBlock(
			slack.NewTextBlockObject(slack.PlainTextType, truncateHeader(msg.Title), false, false),
		))
	}

	budget := maxBlocks - len(blocks)
	if len(msg.Links) > 0 {
		budget--
	}
	for _, section := range msg.Sections() {
		if budget == 0 {
			break
		}
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, truncateRunes(section, maxSectionRunes), false, false),
			nil, nil,
		))
		budget--
	}

	if len(msg.Links) > 0 {
		elements := make([]slack.BlockElement, 0, len(msg.Links))
		for i, l := range msg.Links {
			if i == maxButtons {
				break
			}
			btn := slack.NewButtonBlockElement(
				fmt.Sprintf("open_link_%d", i),
				l.URL,
				slack.NewTextBlockObject(slack.PlainTextType, truncateRunes(l.Label, maxButtonLabel), false, false),
			)
			btn.URL = l.URL
			elements = append(elements, btn)
		}
		blocks = append(blocks, slack.NewActionBlock("", elements...))
	}
	return blocks
}

func truncateHeader(s string) string {
	return runewidth.Truncate(s, maxHeaderWidth, "…")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
