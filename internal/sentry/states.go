package sentry

import "github.com/mikeyg42/camwatch/internal/state"

// State is where the detection loop is between ticks.
type State int

const (
	StateDisabled State = iota
	StatePhotoIdle
	StatePhotoCooldown
	StateVideoIdle
	StateVideoRecording
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "DISABLED"
	case StatePhotoIdle:
		return "PHOTO_IDLE"
	case StatePhotoCooldown:
		return "PHOTO_COOLDOWN"
	case StateVideoIdle:
		return "VIDEO_IDLE"
	case StateVideoRecording:
		return "VIDEO_RECORDING"
	default:
		return "UNKNOWN"
	}
}

// selection is what the operator asked for, read once per tick.
type selection int

const (
	selDisabled selection = iota
	selPhoto
	selVideo
)

func selectionOf(snap state.Snapshot) selection {
	switch {
	case !snap.MonitoringActive:
		return selDisabled
	case snap.Mode == state.ModeVideo:
		return selVideo
	default:
		return selPhoto
	}
}

type action int

const (
	actNone action = iota
	actDiscardClip
)

// transitions holds the action taken before a tick runs under a selection.
// Leaving VIDEO_RECORDING for anything but video drops the open clip.
var transitions = [...][3]action{
	StateDisabled:       {selDisabled: actNone, selPhoto: actNone, selVideo: actNone},
	StatePhotoIdle:      {selDisabled: actNone, selPhoto: actNone, selVideo: actNone},
	StatePhotoCooldown:  {selDisabled: actNone, selPhoto: actNone, selVideo: actNone},
	StateVideoIdle:      {selDisabled: actNone, selPhoto: actNone, selVideo: actNone},
	StateVideoRecording: {selDisabled: actDiscardClip, selPhoto: actDiscardClip, selVideo: actNone},
}

func transition(from State, sel selection) action {
	return transitions[from][sel]
}
