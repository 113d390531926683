package svc

import "errors"

var ErrNoFeedsEnabled = errors.New("no venue feeds enabled")
