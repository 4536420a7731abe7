package coordinator

// Hooks carries the optional lifecycle callbacks of the commit
// protocol. Every set hook is invoked unconditionally at its lifecycle
// point, even when the corresponding queue or batch is empty. Hooks
// replace subclass overrides: configure the ones you need, leave the
// rest nil.
type Hooks struct {
	OnCommitStarting func()

	// Event dispatch, fired once for the before-transaction phase and
	// once for the terminal phase.
	BeforeEventDispatch func(phase EventPhase)
	AfterEventDispatch  func(phase EventPhase, err error)

	BeforeDML func()
	AfterDML  func(err error)

	// Relationship resolution. The commit-wide external-id pass fires
	// with an empty entity type; per-type passes name the type whose
	// insert batch just completed.
	BeforeResolve func(entityType string)
	AfterResolve  func(entityType string, err error)

	// Per-batch, fired around every executed batch.
	BeforeBatch func(entityType string, kind OpKind, size int)
	AfterBatch  func(entityType string, kind OpKind, results []RowResult, err error)

	// DML-failure rollback to the savepoint.
	AfterRollback func(err error)

	BeforeWork func()
	AfterWork  func(err error)

	BeforeMessageFlush func()
	AfterMessageFlush  func(err error)

	OnCommitFinishing func()
	OnCommitFinished  func(successful bool)
}

func (h *Hooks) commitStarting() {
	if h.OnCommitStarting != nil {
		h.OnCommitStarting()
	}
}

func (h *Hooks) beforeEventDispatch(phase EventPhase) {
	if h.BeforeEventDispatch != nil {
		h.BeforeEventDispatch(phase)
	}
}

func (h *Hooks) afterEventDispatch(phase EventPhase, err error) {
	if h.AfterEventDispatch != nil {
		h.AfterEventDispatch(phase, err)
	}
}

func (h *Hooks) beforeDML() {
	if h.BeforeDML != nil {
		h.BeforeDML()
	}
}

func (h *Hooks) afterDML(err error) {
	if h.AfterDML != nil {
		h.AfterDML(err)
	}
}

func (h *Hooks) beforeResolve(entityType string) {
	if h.BeforeResolve != nil {
		h.BeforeResolve(entityType)
	}
}

func (h *Hooks) afterResolve(entityType string, err error) {
	if h.AfterResolve != nil {
		h.AfterResolve(entityType, err)
	}
}

func (h *Hooks) beforeBatch(entityType string, kind OpKind, size int) {
	if h.BeforeBatch != nil {
		h.BeforeBatch(entityType, kind, size)
	}
}

func (h *Hooks) afterBatch(entityType string, kind OpKind, results []RowResult, err error) {
	if h.AfterBatch != nil {
		h.AfterBatch(entityType, kind, results, err)
	}
}

func (h *Hooks) afterRollback(err error) {
	if h.AfterRollback != nil {
		h.AfterRollback(err)
	}
}

func (h *Hooks) beforeWork() {
	if h.BeforeWork != nil {
		h.BeforeWork()
	}
}

func (h *Hooks) afterWork(err error) {
	if h.AfterWork != nil {
		h.AfterWork(err)
	}
}

func (h *Hooks) beforeMessageFlush() {
	if h.BeforeMessageFlush != nil {
		h.BeforeMessageFlush()
	}
}

func (h *Hooks) afterMessageFlush(err error) {
	if h.AfterMessageFlush != nil {
		h.AfterMessageFlush(err)
	}
}

func (h *Hooks) commitFinishing() {
	if h.OnCommitFinishing != nil {
		h.OnCommitFinishing()
	}
}

func (h *Hooks) commitFinished(successful bool) {
	if h.OnCommitFinished != nil {
		h.OnCommitFinished(successful)
	}
}
