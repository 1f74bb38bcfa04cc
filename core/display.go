package core

import "pkt.systems/eclkernel/schema"

// displayTracker decides whether a display is new or refreshes an earlier one.
// It is owned by a single execution.
type displayTracker struct {
	seen map[string]struct{}
}

func newDisplayTracker() *displayTracker {
	return &displayTracker{seen: make(map[string]struct{})}
}

func (d *displayTracker) classify(displayID string) schema.MsgType {
	if displayID == "" {
		return schema.MsgDisplayData
	}
	if _, ok := d.seen[displayID]; ok {
		return schema.MsgUpdateDisplayData
	}
	d.seen[displayID] = struct{}{}
	return schema.MsgDisplayData
}

func displayContent(update schema.DisplayUpdate) schema.DisplayContent {
	content := schema.DisplayContent{
		Data:     update.Data,
		Metadata: update.Metadata,
	}
	if content.Data == nil {
		content.Data = schema.MimeBundle{}
	}
	if content.Metadata == nil {
		content.Metadata = map[string]any{}
	}
	if update.DisplayID != "" {
		content.Transient = &schema.Transient{DisplayID: update.DisplayID}
	}
	return content
}
