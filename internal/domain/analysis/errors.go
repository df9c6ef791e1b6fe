package analysis

import "errors"

// ErrUpstream indicates the third-party analysis API failed or rejected the image.
var ErrUpstream = errors.New("skin analysis upstream error")

// ErrInvalidPayload indicates a raw result or form that could not be decoded at all.
var ErrInvalidPayload = errors.New("invalid analysis payload")
