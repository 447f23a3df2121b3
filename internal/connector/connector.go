package connector

import (
	"context"
	"errors"
	"reflect"
)

// ErrInvalidConnector is returned when a nil connector is registered with the
// distributor or the monitor.
var ErrInvalidConnector = errors.New("connector does not support get")

// Response is the outcome of a single call through a Connector.
type Response interface {
	Successful() bool
}

// Connector is one backend endpoint. ID must be stable for the life of the
// process; it is used for logging and metrics only.
type Connector interface {
	ID() string
	Get(ctx context.Context, path string) (Response, error)
}

// Validate reports ErrInvalidConnector for a nil connector, including a nil
// pointer, func, map, chan or slice of any implementation hidden behind the
// interface.
func Validate(c Connector) error {
	if c == nil {
		return ErrInvalidConnector
	}
	v := reflect.ValueOf(c)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Chan, reflect.Slice:
		if v.IsNil() {
			return ErrInvalidConnector
		}
	}
	return nil
}

// Succeeded folds a call result into a single verdict. A transport error or
// a missing response is a failure.
func Succeeded(res Response, err error) bool {
	return err == nil && res != nil && res.Successful()
}
