package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a module, or a "module.action" key, is paused.
type PauseView interface {
	IsPaused(module string) bool
}

// PauseSet combines several views. A key is paused when any view reports it.
type PauseSet []PauseView

func (s PauseSet) IsPaused(module string) bool {
	for _, view := range s {
		if view != nil && view.IsPaused(module) {
			return true
		}
	}
	return false
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// GuardAction fails when either the module as a whole or the given action
// within it is paused.
func GuardAction(p PauseView, module, action string) error {
	if err := Guard(p, module); err != nil {
		return err
	}
	if action == "" {
		return nil
	}
	return Guard(p, module+"."+action)
}
