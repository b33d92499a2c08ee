package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ParseAction builds an Action from its event name and string arguments, as
// typed on a command line or posted to the control socket:
//
//	ParseAction("setVolume", []string{"0.5"})
//	ParseAction("updateSetting", []string{"subtitles", `"en"`})
//
// A setting value that is valid JSON is decoded; anything else is kept as a
// plain string.
func ParseAction(name string, args []string) (Action, error) {
	switch Event(name) {
	case EventPlayTitle:
		if err := wantArgs(name, args, 1); err != nil {
			return nil, err
		}
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, fmt.Errorf("%s: invalid title ID %q: %w", name, args[0], err)
		}
		return PlayTitle{TitleID: id}, nil

	case EventShowMenu:
		if err := wantArgs(name, args, 1); err != nil {
			return nil, err
		}
		return ShowMenu{MenuID: args[0]}, nil

	case EventGoBack:
		if err := wantArgs(name, args, 0); err != nil {
			return nil, err
		}
		return GoBack{}, nil

	case EventNavigate:
		if err := wantArgs(name, args, 1); err != nil {
			return nil, err
		}
		dir := Direction(args[0])
		if !dir.Valid() {
			return nil, fmt.Errorf("%s: invalid direction %q", name, args[0])
		}
		return Navigate{Direction: dir}, nil

	case EventSelect:
		if err := wantArgs(name, args, 0); err != nil {
			return nil, err
		}
		return Select{}, nil

	case EventUpdateSetting:
		if err := wantArgs(name, args, 2); err != nil {
			return nil, err
		}
		return UpdateSetting{Setting: args[0], Value: parseValue(args[1])}, nil

	case EventSetVolume:
		if err := wantArgs(name, args, 1); err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid volume %q: %w", name, args[0], err)
		}
		return SetVolume{Volume: v}, nil

	case EventSeekTo:
		if err := wantArgs(name, args, 1); err != nil {
			return nil, err
		}
		pos, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid position %q: %w", name, args[0], err)
		}
		return SeekTo{Position: pos}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
}

// commandEvents maps inbound command types to the action they perform.
var commandEvents = map[string]Event{
	CommandPlayTitle:     EventPlayTitle,
	CommandShowMenu:      EventShowMenu,
	CommandUpdateSetting: EventUpdateSetting,
	CommandNavigate:      EventNavigate,
	CommandSelect:        EventSelect,
	CommandGoBack:        EventGoBack,
}

// ParseCommand builds a host Command from its wire type and string arguments.
// Arguments follow the same rules as ParseAction.
func ParseCommand(name string, args []string) (Command, error) {
	event, ok := commandEvents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}

	action, err := ParseAction(string(event), args)
	if err != nil {
		return nil, err
	}

	switch a := action.(type) {
	case PlayTitle:
		return PlayTitleCommand{TitleID: a.TitleID}, nil
	case ShowMenu:
		return ShowMenuCommand{MenuID: a.MenuID}, nil
	case UpdateSetting:
		return UpdateSettingCommand{Setting: a.Setting, Value: a.Value}, nil
	case Navigate:
		return NavigateCommand{Direction: a.Direction}, nil
	case Select:
		return SelectCommand{}, nil
	case GoBack:
		return GoBackCommand{}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
}

func wantArgs(name string, args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s expects %d argument(s), got %d", name, n, len(args))
	}
	return nil
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
