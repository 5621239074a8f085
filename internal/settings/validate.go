package settings

import (
	"errors"
	"fmt"
)

var ErrInvalidSettings = errors.New("invalid settings")

func (s *Settings) Validate() error {
	if s.SearchLimit < 1 {
		return fmt.Errorf("%w: search_limit must be positive", ErrInvalidSettings)
	}
	if s.MaxContextLength < 1 {
		return fmt.Errorf("%w: max_context_length must be positive", ErrInvalidSettings)
	}
	if s.ExpansionWindow < 0 {
		return fmt.Errorf("%w: expansion_window must not be negative", ErrInvalidSettings)
	}
	return nil
}
