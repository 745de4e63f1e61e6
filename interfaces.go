package agenthub

// Navigator performs a full page navigation, not a client-side route swap.
// Credential cookie changes are flushed before Navigate is called, so the
// destination always observes a consistent auth state. The default
// implementation only logs; embedders supply the real one.
type Navigator interface {
	Navigate(url string)
}

// Notifier surfaces toast-style messages outside any particular control.
// The default implementation only logs.
type Notifier interface {
	Info(message string)
	Error(message string)
}

// PreviewAllocator manages local preview URLs for attached files. Every URL
// Create returns is passed to Revoke exactly once. The default allocator
// issues process-local synthetic URLs; embedders with a real display layer
// supply their own.
type PreviewAllocator interface {
	Create(name string) string
	Revoke(url string)
}
