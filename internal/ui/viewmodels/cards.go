// internal/ui/viewmodels/cards.go

// Package viewmodels projects the playback state into what the side panel
// renders: one card per content item, with visibility and highlight flags
// already decided server-side.
package viewmodels

import (
	"strings"

	"github.com/unlocklabs/unlock/internal/packet"
	"github.com/unlocklabs/unlock/internal/proto"
)

type Card struct {
	Kind      string `json:"kind"`
	Title     string `json:"title"`
	Relevance string `json:"relevance,omitempty"`
	URL       string `json:"url,omitempty"`
	PageID    string `json:"page_id,omitempty"`

	Visited       bool `json:"visited"`
	Hidden        bool `json:"hidden"`
	Active        bool `json:"active"`
	Mentioned     bool `json:"mentioned"`
	JustMentioned bool `json:"just_mentioned"`

	Classes string `json:"classes"`
}

type PanelVM struct {
	InstanceID     string `json:"instance_id"`
	Topic          string `json:"topic"`
	Status         string `json:"status"`
	CompletedCount int    `json:"completed_count"`
	TotalCount     int    `json:"total_count"`
	Percent        int    `json:"percent"`
	Cards          []Card `json:"cards"`
}

// BuildPanel flattens an instance and the current snapshot into cards.
//
// Reveal rules: media cards are always shown, external and generated cards
// stay hidden until they have been visited or mentioned in the narration.
func BuildPanel(inst *packet.PacketInstance, snap proto.OverlaySnapshot, norm packet.Canonicalizer, baseURL string) PanelVM {
	p := packet.ComputeProgress(inst, norm)
	vm := PanelVM{
		InstanceID:     inst.InstanceID,
		Topic:          inst.Topic,
		Status:         inst.Status,
		CompletedCount: p.CompletedCount,
		TotalCount:     p.TotalCount,
		Percent:        p.Percent,
		Cards:          make([]Card, 0, len(inst.Contents)),
	}
	for i := range inst.Contents {
		item := &inst.Contents[i]
		if item.Kind == packet.KindAlternative {
			// Alternatives are resolved at instantiation; an unresolved one
			// has nothing to render.
			continue
		}
		vm.Cards = append(vm.Cards, buildCard(inst, item, snap, norm, baseURL))
	}
	return vm
}

func buildCard(inst *packet.PacketInstance, item *packet.ContentItem, snap proto.OverlaySnapshot, norm packet.Canonicalizer, baseURL string) Card {
	c := Card{
		Kind:      item.Kind,
		Title:     item.Title,
		Relevance: item.Relevance,
		PageID:    item.PageID,
		URL:       cardURL(inst, item, baseURL),
		Visited:   packet.ItemComplete(inst, item, norm),
	}

	if c.URL != "" {
		want := norm.Canonical(c.URL)
		c.Mentioned = inst.MentionedMediaLinks.Has(want)
		if snap.ActiveURL != "" && norm.Canonical(snap.ActiveURL) == want {
			c.Active = true
		}
		if snap.NewLinkMentioned && snap.LastMentionedLink != "" &&
			norm.Canonical(snap.LastMentionedLink) == want {
			c.JustMentioned = true
		}
	}
	if item.Kind == packet.KindMedia && item.PageID == snap.PageID && snap.InstanceID == inst.InstanceID {
		c.Active = true
	}

	// Media is the entry point and always visible; everything else earns
	// its reveal.
	c.Hidden = item.Kind != packet.KindMedia && !c.Visited && !c.Mentioned

	c.Classes = cardClasses(c)
	return c
}

func cardURL(inst *packet.PacketInstance, item *packet.ContentItem, baseURL string) string {
	switch item.Kind {
	case packet.KindExternal:
		return item.URL
	case packet.KindGenerated, packet.KindMedia:
		if item.PublishedURL != "" {
			return item.PublishedURL
		}
		if item.PageID == "" {
			return ""
		}
		return baseURL + "/pages/" + inst.ImageID + "/" + item.PageID
	}
	return ""
}

func cardClasses(c Card) string {
	cls := []string{"card", "card-" + c.Kind}
	if c.Hidden {
		cls = append(cls, "hidden")
	}
	if c.Visited {
		cls = append(cls, "visited")
	}
	if c.Active {
		cls = append(cls, "active")
	}
	if c.Mentioned {
		cls = append(cls, "mentioned")
	}
	if c.JustMentioned {
		cls = append(cls, "link-mentioned")
	}
	return strings.Join(cls, " ")
}
