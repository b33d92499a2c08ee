package protocol

// Inbound envelope types sent by the host.
const (
	CommandPlayTitle     = "play_title"
	CommandShowMenu      = "show_menu"
	CommandUpdateSetting = "update_setting"
	CommandNavigate      = "navigate"
	CommandSelect        = "select"
	CommandGoBack        = "go_back"
)

// Command is a host request delivered to the UI. Each command maps to exactly
// one Action, which the bridge performs locally without echoing it back.
type Command interface {
	Message

	// Action returns the local action equivalent to this command.
	Action() Action

	isCommand()
}

// PlayTitleCommand asks the UI to play a title.
type PlayTitleCommand struct {
	TitleID int `json:"titleId"`
}

func (PlayTitleCommand) MessageType() string { return CommandPlayTitle }
func (c PlayTitleCommand) Action() Action { return PlayTitle{TitleID: c.TitleID} }
func (PlayTitleCommand) isCommand() {}

// ShowMenuCommand asks the UI to show a menu.
type ShowMenuCommand struct {
	MenuID string `json:"menuId"`
}

func (ShowMenuCommand) MessageType() string { return CommandShowMenu }
func (c ShowMenuCommand) Action() Action { return ShowMenu{MenuID: c.MenuID} }
func (ShowMenuCommand) isCommand() {}

// UpdateSettingCommand pushes a setting change to the UI.
type UpdateSettingCommand struct {
	Setting string `json:"setting"`
	Value   any    `json:"value"`
}

func (UpdateSettingCommand) MessageType() string { return CommandUpdateSetting }
func (UpdateSettingCommand) isCommand() {}

func (c UpdateSettingCommand) Action() Action {
	return UpdateSetting{Setting: c.Setting, Value: c.Value}
}

// NavigateCommand moves the UI menu focus.
type NavigateCommand struct {
	Direction Direction `json:"direction"`
}

func (NavigateCommand) MessageType() string { return CommandNavigate }
func (c NavigateCommand) Action() Action { return Navigate{Direction: c.Direction} }
func (NavigateCommand) isCommand() {}

func (c NavigateCommand) validate() error { return checkDirection(c.Direction) }

// SelectCommand activates the focused menu item.
type SelectCommand struct{}

func (SelectCommand) MessageType() string { return CommandSelect }
func (SelectCommand) Action() Action { return Select{} }
func (SelectCommand) isCommand() {}

// GoBackCommand returns the UI to the previous menu.
type GoBackCommand struct{}

func (GoBackCommand) MessageType() string { return CommandGoBack }
func (GoBackCommand) Action() Action { return GoBack{} }
func (GoBackCommand) isCommand() {}

// commandTypes is the inbound dispatch table.
var commandTypes = map[string]func() Command{
	CommandPlayTitle:     func() Command { return &PlayTitleCommand{} },
	CommandShowMenu:      func() Command { return &ShowMenuCommand{} },
	CommandUpdateSetting: func() Command { return &UpdateSettingCommand{} },
	CommandNavigate:      func() Command { return &NavigateCommand{} },
	CommandSelect:        func() Command { return &SelectCommand{} },
	CommandGoBack:        func() Command { return &GoBackCommand{} },
}

// CommandTypes returns the inbound wire types in dispatch-table order.
func CommandTypes() []string {
	return []string{
		CommandPlayTitle,
		CommandShowMenu,
		CommandUpdateSetting,
		CommandNavigate,
		CommandSelect,
		CommandGoBack,
	}
}
