package protocol

// Event is a local notification topic UI code can subscribe to. Every action
// notifies exactly one event.
type Event string

const (
	EventPlayTitle     Event = "playTitle"
	EventShowMenu      Event = "showMenu"
	EventNavigate      Event = "navigate"
	EventSelect        Event = "select"
	EventGoBack        Event = "goBack"
	EventUpdateSetting Event = "updateSetting"
	EventSetVolume     Event = "setVolume"
	EventSeekTo        Event = "seekTo"
)

// capabilities is the fixed, ordered set of supported actions.
var capabilities = []Event{
	EventPlayTitle,
	EventShowMenu,
	EventNavigate,
	EventSelect,
	EventGoBack,
	EventUpdateSetting,
	EventSetVolume,
	EventSeekTo,
}

// Capabilities returns the supported action names in a fixed order.
func Capabilities() []Event {
	return append([]Event(nil), capabilities...)
}

// Outbound envelope types understood by the host.
const (
	TypePlayTitle     = "8kdvd_play_title"
	TypeShowMenu      = "8kdvd_show_menu"
	TypeNavigateMenu  = "8kdvd_navigate_menu"
	TypeSelect        = "8kdvd_select"
	TypeSettingUpdate = "8kdvd_setting_update"
	TypeVolumeChange  = "8kdvd_volume_change"
	TypeSeekTo        = "8kdvd_seek_to"
)

// Direction is a menu navigation direction.
type Direction string

const (
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
	DirectionBack  Direction = "back"
)

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	switch d {
	case DirectionUp, DirectionDown, DirectionLeft, DirectionRight, DirectionBack:
		return true
	}
	return false
}

// SettingChange is the listener data for EventUpdateSetting.
type SettingChange struct {
	Setting string `json:"setting"`
	Value   any    `json:"value"`
}

// Action is a UI request forwarded to the host. The set is closed: only the
// types in this file implement it.
type Action interface {
	Message

	// Event returns the local event notified when the action is dispatched.
	Event() Event

	// ListenerData returns the value passed to listeners of Event. It is the
	// raw action argument, never the envelope.
	ListenerData() any

	isAction()
}

// PlayTitle starts playback of a disc title.
type PlayTitle struct {
	TitleID int `json:"titleId"`
}

func (PlayTitle) MessageType() string { return TypePlayTitle }
func (PlayTitle) Event() Event { return EventPlayTitle }
func (a PlayTitle) ListenerData() any { return a.TitleID }
func (PlayTitle) isAction() {}

// ShowMenu opens a disc menu.
type ShowMenu struct {
	MenuID string `json:"menuId"`
}

func (ShowMenu) MessageType() string { return TypeShowMenu }
func (ShowMenu) Event() Event { return EventShowMenu }
func (a ShowMenu) ListenerData() any { return a.MenuID }
func (ShowMenu) isAction() {}

// GoBack returns to the previous menu. On the wire it is a navigate with
// direction "back".
type GoBack struct{}

func (GoBack) MessageType() string { return TypeNavigateMenu }
func (GoBack) Event() Event { return EventGoBack }
func (GoBack) ListenerData() any { return nil }
func (GoBack) isAction() {}

// MarshalJSON encodes GoBack as its navigate payload.
func (GoBack) MarshalJSON() ([]byte, error) {
	return []byte(`{"direction":"back"}`), nil
}

// Navigate moves the menu focus.
type Navigate struct {
	Direction Direction `json:"direction"`
}

func (Navigate) MessageType() string { return TypeNavigateMenu }
func (Navigate) Event() Event { return EventNavigate }
func (a Navigate) ListenerData() any { return a.Direction }
func (Navigate) isAction() {}

func (a Navigate) validate() error { return checkDirection(a.Direction) }

// Select activates the focused menu item.
type Select struct{}

func (Select) MessageType() string { return TypeSelect }
func (Select) Event() Event { return EventSelect }
func (Select) ListenerData() any { return nil }
func (Select) isAction() {}

// UpdateSetting changes a player setting. Value is any JSON value.
type UpdateSetting struct {
	Setting string `json:"setting"`
	Value   any    `json:"value"`
}

func (UpdateSetting) MessageType() string { return TypeSettingUpdate }
func (UpdateSetting) Event() Event { return EventUpdateSetting }
func (UpdateSetting) isAction() {}

func (a UpdateSetting) ListenerData() any {
	return SettingChange{Setting: a.Setting, Value: a.Value}
}

// SetVolume changes the output volume.
type SetVolume struct {
	Volume float64 `json:"volume"`
}

func (SetVolume) MessageType() string { return TypeVolumeChange }
func (SetVolume) Event() Event { return EventSetVolume }
func (a SetVolume) ListenerData() any { return a.Volume }
func (SetVolume) isAction() {}

// SeekTo moves the playback position.
type SeekTo struct {
	Position float64 `json:"position"`
}

func (SeekTo) MessageType() string { return TypeSeekTo }
func (SeekTo) Event() Event { return EventSeekTo }
func (a SeekTo) ListenerData() any { return a.Position }
func (SeekTo) isAction() {}

// actionTypes maps outbound wire types to factories producing zero-value
// pointers, used by the host to decode envelopes.
var actionTypes = map[string]func() Action{
	TypePlayTitle:     func() Action { return &PlayTitle{} },
	TypeShowMenu:      func() Action { return &ShowMenu{} },
	TypeNavigateMenu:  func() Action { return &Navigate{} },
	TypeSelect:        func() Action { return &Select{} },
	TypeSettingUpdate: func() Action { return &UpdateSetting{} },
	TypeVolumeChange:  func() Action { return &SetVolume{} },
	TypeSeekTo:        func() Action { return &SeekTo{} },
}

// ActionTypes returns the outbound wire types the host must handle.
func ActionTypes() []string {
	return []string{
		TypePlayTitle,
		TypeShowMenu,
		TypeNavigateMenu,
		TypeSelect,
		TypeSettingUpdate,
		TypeVolumeChange,
		TypeSeekTo,
	}
}
