package protocol

import "errors"

var ErrMessageTooLarge = errors.New("protocol: message too large")
