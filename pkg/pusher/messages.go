package pusher

import "github.com/tinywideclouds/go-pusher-service/pkg/gateway"

// EncodeCustomData nests data under the configured custom key.
func (p *Pusher) EncodeCustomData(data map[string]any) map[string]any {
	if len(data) == 0 {
		return map[string]any{}
	}
	if p.customKey == "" {
		return data
	}
	return map[string]any{p.customKey: data}
}

// NewIOSMessage builds an alert message. A negative badge and an empty sound
// are left out of the payload.
func (p *Pusher) NewIOSMessage(alert string, custom map[string]any, badge int, sound string) gateway.Message {
	msg := gateway.Message{
		Alert:  alert,
		Custom: p.EncodeCustomData(custom),
		Sound:  sound,
	}
	if badge >= 0 {
		msg.Badge = &badge
	}
	return msg
}

// NewAndroidMessage builds a message of type typ. The zero type means a
// passthrough message.
func (p *Pusher) NewAndroidMessage(title, content string, custom map[string]any, typ gateway.MessageType) gateway.Message {
	if typ == 0 {
		typ = gateway.TypeMessage
	}
	return gateway.Message{
		Title:   title,
		Content: content,
		Type:    typ,
		Custom:  p.EncodeCustomData(custom),
	}
}

// NewAndroidNotification builds a displayed notification that rings,
// vibrates, can be cleared and opens the app when tapped.
func (p *Pusher) NewAndroidNotification(title, content string, custom map[string]any) gateway.Message {
	msg := p.NewAndroidMessage(title, content, custom, gateway.TypeNotification)
	msg.Style = &gateway.Style{BuilderID: 0, Ring: 1, Vibrate: 1, Clearable: 1, NID: 0}
	msg.Action = &gateway.ClickAction{ActionType: gateway.ActionActivity}
	return msg
}
