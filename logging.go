package pathoram

import "go.uber.org/zap"

// logger returns o.log, defaulting to a no-op logger so callers never need
// to nil-check before logging. The engine only ever logs capacity-warning
// and corrupt-store events. It never logs addresses or block contents,
// since that would leak the access pattern the rest of the package hides.
func (o *PathORAM) logger() *zap.Logger {
	if o.log == nil {
		return zap.NewNop()
	}
	return o.log
}
