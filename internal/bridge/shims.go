package bridge

import (
	"context"

	"github.com/kuuji/kdvdbridge/pkg/protocol"
)

// PlayTitle dispatches protocol.PlayTitle.
func (b *Bridge) PlayTitle(ctx context.Context, titleID int) Result {
	return b.Dispatch(ctx, protocol.PlayTitle{TitleID: titleID})
}

// ShowMenu dispatches protocol.ShowMenu.
func (b *Bridge) ShowMenu(ctx context.Context, menuID string) Result {
	return b.Dispatch(ctx, protocol.ShowMenu{MenuID: menuID})
}

// GoBack dispatches protocol.GoBack.
func (b *Bridge) GoBack(ctx context.Context) Result {
	return b.Dispatch(ctx, protocol.GoBack{})
}

// Navigate dispatches protocol.Navigate.
func (b *Bridge) Navigate(ctx context.Context, dir protocol.Direction) Result {
	return b.Dispatch(ctx, protocol.Navigate{Direction: dir})
}

// Select dispatches protocol.Select.
func (b *Bridge) Select(ctx context.Context) Result {
	return b.Dispatch(ctx, protocol.Select{})
}

// UpdateSetting dispatches protocol.UpdateSetting.
func (b *Bridge) UpdateSetting(ctx context.Context, setting string, value any) Result {
	return b.Dispatch(ctx, protocol.UpdateSetting{Setting: setting, Value: value})
}

// SetVolume dispatches protocol.SetVolume.
func (b *Bridge) SetVolume(ctx context.Context, volume float64) Result {
	return b.Dispatch(ctx, protocol.SetVolume{Volume: volume})
}

// SeekTo dispatches protocol.SeekTo.
func (b *Bridge) SeekTo(ctx context.Context, position float64) Result {
	return b.Dispatch(ctx, protocol.SeekTo{Position: position})
}

// DispatchNamed parses an action from its event name and string arguments
// (see protocol.ParseAction) and dispatches it.
func (b *Bridge) DispatchNamed(ctx context.Context, name string, args ...string) (Result, error) {
	action, err := protocol.ParseAction(name, args)
	if err != nil {
		return Result{}, err
	}
	return b.Dispatch(ctx, action), nil
}
