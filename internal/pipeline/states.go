package pipeline

// State is a position of a pipeline run. Legal transitions are the ToX
// methods each state defines, so an illegal move does not compile.
type State interface {
	Name() string
}

// StartState - record not yet resolved against the store
type StartState struct{}

func (s *StartState) Name() string { return "start" }
func (s *StartState) ToSourceFetched() *SourceFetchedState {
	return &SourceFetchedState{}
}

// ToSourcePersisted resumes a record whose source export is already stored.
func (s *StartState) ToSourcePersisted() *SourcePersistedState {
	return &SourcePersistedState{}
}

// ToTargetPersisted resumes a record that is already converted.
func (s *StartState) ToTargetPersisted() *TargetPersistedState {
	return &TargetPersistedState{}
}

// ToDone finishes a record that was already delivered.
func (s *StartState) ToDone() *DoneState {
	return &DoneState{}
}
func (s *StartState) ToFailed() *FailedState {
	return &FailedState{}
}

// SourceFetchedState - source document scraped, held only until persisted
type SourceFetchedState struct{}

func (s *SourceFetchedState) Name() string { return "source_fetched" }
func (s *SourceFetchedState) ToSourcePersisted() *SourcePersistedState {
	return &SourcePersistedState{}
}
func (s *SourceFetchedState) ToFailed() *FailedState {
	return &FailedState{}
}

// SourcePersistedState - record and source export stored
type SourcePersistedState struct{}

func (s *SourcePersistedState) Name() string { return "source_persisted" }
func (s *SourcePersistedState) ToConverted() *ConvertedState {
	return &ConvertedState{}
}
func (s *SourcePersistedState) ToFailed() *FailedState {
	return &FailedState{}
}

// ConvertedState - target document produced
type ConvertedState struct{}

func (s *ConvertedState) Name() string { return "converted" }
func (s *ConvertedState) ToTargetPersisted() *TargetPersistedState {
	return &TargetPersistedState{}
}
func (s *ConvertedState) ToFailed() *FailedState {
	return &FailedState{}
}

// TargetPersistedState - target export stored, status at least converted
type TargetPersistedState struct{}

func (s *TargetPersistedState) Name() string { return "target_persisted" }
func (s *TargetPersistedState) ToUploaded() *UploadedState {
	return &UploadedState{}
}

// ToDone ends a convert-only run.
func (s *TargetPersistedState) ToDone() *DoneState {
	return &DoneState{}
}
func (s *TargetPersistedState) ToDeliveryPending() *DeliveryPendingState {
	return &DeliveryPendingState{}
}

// UploadedState - target document present at the remote path
type UploadedState struct{}

func (s *UploadedState) Name() string { return "uploaded" }
func (s *UploadedState) ToDone() *DoneState {
	return &DoneState{}
}
func (s *UploadedState) ToFailed() *FailedState {
	return &FailedState{}
}

// Terminal States

// DoneState - every stage of the mode completed
type DoneState struct{}

func (s *DoneState) Name() string { return "done" }

// DeliveryPendingState - converted but the upload failed; the record rests at converted
type DeliveryPendingState struct{}

func (s *DeliveryPendingState) Name() string { return "delivery_pending" }

// FailedState - a stage failed; see the pipeline's failed stage
type FailedState struct{}

func (s *FailedState) Name() string { return "failed" }

// StateRecorder tracks state transitions for tests
type StateRecorder struct {
	path []string
}

func NewStateRecorder() *StateRecorder {
	return &StateRecorder{path: make([]string, 0)}
}

func (r *StateRecorder) Record(state State) {
	r.path = append(r.path, state.Name())
}

func (r *StateRecorder) Path() []string {
	return r.path
}
