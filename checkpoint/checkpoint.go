// Package checkpoint decorates errors with the location they passed through.
// A checkpoint carries two errors: the cause (prev) and an optional
// classification (err), usually a package level sentinel.
// errors.Is and errors.As see both of them.
package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
)

// From marks err with the location of the caller.
// It returns nil if err is nil.
func From(err error) error {
	if err == nil {
		return nil
	}
	// io.EOF must stay comparable with ==.
	// https://github.com/golang/go/issues/39155
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return err
	}

	return newCheckpoint(err, nil)
}

// Wrap marks prev with the location of the caller and classifies it as err.
// It returns nil if prev is nil, so it can be used directly on return values:
//
//	var ErrBadThing = errors.New("bad thing")
//
//	func load() error {
//		return checkpoint.Wrap(read(), ErrBadThing)
//	}
//
// Afterwards errors.Is(err, ErrBadThing) holds as well as errors.Is for
// whatever read() returned.
func Wrap(prev, err error) error {
	if prev == nil {
		return nil
	}
	if prev == io.EOF {
		return io.EOF
	}

	return newCheckpoint(prev, err)
}

// Location returns the file and line of the outermost checkpoint in err.
func Location(err error) (file string, line int, ok bool) {
	var c *checkpoint
	if !errors.As(err, &c) || !c.callerOk {
		return "", 0, false
	}
	return c.file, c.line, true
}

type checkpoint struct {
	err  error
	prev error

	callerOk bool
	file     string
	line     int
}

func newCheckpoint(prev, err error) *checkpoint {
	// Skip newCheckpoint and the exported function.
	_, file, line, ok := runtime.Caller(2)

	return &checkpoint{
		err:      err,
		prev:     prev,
		callerOk: ok,
		file:     filepath.Base(file),
		line:     line,
	}
}

func (c *checkpoint) Error() string {
	msg := c.prev.Error()
	if c.err != nil {
		msg = c.err.Error() + ": " + msg
	}
	if !c.callerOk {
		return msg
	}
	// Only the innermost location is printed, the outer ones are noise.
	var inner *checkpoint
	if errors.As(c.prev, &inner) {
		return msg
	}
	return fmt.Sprintf("%s (%s:%d)", msg, c.file, c.line)
}

func (c *checkpoint) Unwrap() error {
	return c.prev
}

func (c *checkpoint) Is(target error) bool {
	return c.err != nil && errors.Is(c.err, target)
}

func (c *checkpoint) As(target interface{}) bool {
	return c.err != nil && errors.As(c.err, target)
}
