package bridge

import "context"

// Surface is the embedded browser the controller drives. A Surface is
// replaced wholesale when the page target dies; callers must not keep one
// across a blocking call.
type Surface interface {
	// Evaluate runs script in the current document.
	Evaluate(ctx context.Context, script string) error
	// SetBootstrap makes script run before page scripts on every future
	// document, replacing any previously registered bootstrap.
	SetBootstrap(ctx context.Context, script string) error
	Navigate(ctx context.Context, url string) error
	// Back steps one history entry back; false when there is nothing to go
	// back to.
	Back(ctx context.Context) (bool, error)
	CurrentURL(ctx context.Context) (string, error)
	// SetBackground repaints the area behind the page to match its theme.
	SetBackground(ctx context.Context, dark bool) error
}
