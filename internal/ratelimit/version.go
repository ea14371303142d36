package ratelimit

// Version identifies the engine build. Overridable at link time with
// -ldflags "-X quotaguard/internal/ratelimit.Version=v1.2.3".
var Version = "0.1.0"
