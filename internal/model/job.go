package model

// JobKind selects the execution strategy for a queue entry.
type JobKind string

const (
	// KindStructured runs the multi-iteration loop driver against a
	// numbered specification document (prd-NN-*.md).
	KindStructured JobKind = "structured"
	// KindFreeform runs two sequential direct agent invocations
	// (implement, then verify) against a direct task file (todo-*.md).
	KindFreeform JobKind = "freeform"
)

// ArchiveStatus is the terminal marker written into every archive record.
type ArchiveStatus string

const (
	ArchiveComplete   ArchiveStatus = "COMPLETE"
	ArchiveIncomplete ArchiveStatus = "INCOMPLETE"
	ArchiveStale      ArchiveStatus = "STALE"
)
