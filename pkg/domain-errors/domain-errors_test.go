package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

type DomainErrorsSuite struct {
	suite.Suite
}

func TestDomainErrorsSuite(t *testing.T) {
	suite.Run(t, new(DomainErrorsSuite))
}

func (s *DomainErrorsSuite) TestErrorMessage() {
	s.Run("returns message when present", func() {
		err := &Error{Code: CodeNotFound, Message: "claim not found"}
		s.Equal("claim not found", err.Error())
	})

	s.Run("returns code when message is empty", func() {
		err := &Error{Code: CodeTimeout}
		s.Equal("timeout", err.Error())
	})
}

func (s *DomainErrorsSuite) TestIsMatchesByCode() {
	inner := &Error{Code: CodeNotFound, Message: "original"}
	wrapped := fmt.Errorf("lookup: %w", inner)

	s.True(errors.Is(wrapped, &Error{Code: CodeNotFound}))
	s.False(errors.Is(wrapped, &Error{Code: CodeInternal}))
	s.False(inner.Is(errors.New("not_found")))
}

func (s *DomainErrorsSuite) TestWrap() {
	s.Run("preserves existing domain code", func() {
		inner := New(CodeNotFound, "missing")
		err := Wrap(inner, CodeInternal, "outer")
		s.True(HasCode(err, CodeNotFound))
		s.Equal("outer", err.Error())
	})

	s.Run("applies code to plain errors", func() {
		err := Wrap(errors.New("boom"), CodeUnavailable, "store down")
		s.True(HasCode(err, CodeUnavailable))
		s.Equal("boom", errors.Unwrap(err).Error())
	})
}

func (s *DomainErrorsSuite) TestCodeOf() {
	s.Equal(CodeBadRequest, CodeOf(fmt.Errorf("ctx: %w", New(CodeBadRequest, "bad"))))
	s.Equal(CodeInternal, CodeOf(errors.New("plain")))
}
