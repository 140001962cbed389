package recovery

import "errors"

var (
	errOddHexLength   = errors.New("recovery: odd-length hex payload")
	errInvalidHexChar = errors.New("recovery: invalid hex character")
)
