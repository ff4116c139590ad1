package errors

import "errors"

var (
	ErrPayloadHashMismatch = errors.New("payload hash mismatch")
	ErrWatermarkNotFound   = errors.New("watermark not found")
)
