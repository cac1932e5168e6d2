package webhook

import (
	"strings"

	"github.com/xraph/sparkcloud/event"
)

// Matches reports whether evt should trigger wh.
//
// The event name must start with wh.Event. Private events only reach the
// owner's webhooks, as do all events for webhooks limited to the owner's
// devices. A device-scoped webhook ignores other devices.
func Matches(wh *Webhook, evt *event.Event) bool {
	if wh == nil || evt == nil {
		return false
	}
	if !strings.HasPrefix(evt.Name, wh.Event) {
		return false
	}
	if !evt.IsPublic && wh.OwnerID != evt.UserID {
		return false
	}
	if wh.MyDevices && wh.OwnerID != evt.UserID {
		return false
	}
	if wh.DeviceID != "" && wh.DeviceID != evt.DeviceID {
		return false
	}
	return true
}
