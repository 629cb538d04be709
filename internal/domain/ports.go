package domain

import (
	"context"
	"time"
)

// BuildFetcher resolves the latest build of one tracked project.
type BuildFetcher interface {
	LatestBuild(ctx context.Context) (Build, error)
}

// Indicator drives the shared output device.
type Indicator interface {
	SetOutput(id OutputID, on bool) error
	// Buzz holds the output on for d and blocks until it is released.
	Buzz(ctx context.Context, id OutputID, d time.Duration) error
	AllOff(ids []OutputID) error
	Close() error
	// CloseUrgently releases the device without logging or waiting on locks
	// held by other callers for more than a short bound.
	CloseUrgently() error
}

type Notification struct {
	Title   string
	Body    string
	URL     string
	Urgency string
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type StatusCache interface {
	Write(ctx context.Context, s Snapshot) error
	// Forget drops the entry of a project that is no longer tracked.
	Forget(ctx context.Context, key string) error
}
