package server

import (
	"context"

	"github.com/vnykmshr/hellopool/pkg/ratelimit/bucket"
	"github.com/vnykmshr/hellopool/pkg/ratelimit/distributed"
)

// Admitter decides whether an accepted connection may enter the queue.
type Admitter interface {
	Admit(ctx context.Context) bool
}

// AdmitterFunc adapts a function to Admitter.
type AdmitterFunc func(ctx context.Context) bool

// Admit implements Admitter.
func (f AdmitterFunc) Admit(ctx context.Context) bool {
	return f(ctx)
}

// LocalAdmitter admits connections against an in-process token bucket.
func LocalAdmitter(limiter bucket.Limiter) Admitter {
	return AdmitterFunc(func(context.Context) bool {
		return limiter.Allow()
	})
}

// DistributedAdmitter admits connections against a limit shared through Redis.
func DistributedAdmitter(limiter distributed.Limiter) Admitter {
	return AdmitterFunc(func(ctx context.Context) bool {
		return limiter.Allow(ctx)
	})
}
