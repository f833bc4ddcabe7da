package mirror

import "fmt"

// WatermarkError reports an attempt to move the watermark backwards.
type WatermarkError struct {
	Current   uint64
	Requested uint64
}

func (e *WatermarkError) Error() string {
	return fmt.Sprintf("mirror: watermark %d cannot move back to %d", e.Current, e.Requested)
}

func (e *WatermarkError) Unwrap() error { return ErrNonMonotonicWatermark }

// GapError reports a height that does not extend the mirrored chain.
type GapError struct {
	Tip    uint64
	Height uint64
}

func (e *GapError) Error() string {
	return fmt.Sprintf("mirror: height %d does not follow mirrored tip %d", e.Height, e.Tip)
}

func (e *GapError) Unwrap() error { return ErrBlockGap }
