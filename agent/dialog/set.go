package dialog

import (
	"fmt"
	"strings"
)

// Set resolves dialogs by id.
type Set struct {
	dialogs map[string]Dialog
}

func NewSet(dialogs ...Dialog) (*Set, error) {
	s := &Set{dialogs: make(map[string]Dialog, len(dialogs))}
	for _, d := range dialogs {
		if err := s.Add(d); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Set) Add(d Dialog) error {
	if d == nil {
		return fmt.Errorf("%w: nil dialog", ErrDialogNotFound)
	}
	id := strings.TrimSpace(d.ID())
	if id == "" {
		return fmt.Errorf("dialog id is empty")
	}
	if _, ok := s.dialogs[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateDialog, id)
	}
	s.dialogs[id] = d
	return nil
}

func (s *Set) Find(id string) (Dialog, error) {
	d, ok := s.dialogs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDialogNotFound, id)
	}
	return d, nil
}
