package model

// Operation types
type Operation string

const (
	OperationInfo         Operation = "info"
	OperationDownload     Operation = "download"
	OperationExtractAudio Operation = "extract-audio"
	OperationProcess      Operation = "process"
)

// Job states
type JobState string

const (
	JobStateReceived    JobState = "received"
	JobStateFetching    JobState = "fetching"
	JobStateTranscoding JobState = "transcoding"
	JobStateDelivering  JobState = "delivering"
	JobStateDone        JobState = "done"
	JobStateFailed      JobState = "failed"
)

var jobTransitions = map[JobState][]JobState{
	JobStateReceived:    {JobStateFetching, JobStateFailed},
	JobStateFetching:    {JobStateFetching, JobStateTranscoding, JobStateDelivering, JobStateDone, JobStateFailed},
	JobStateTranscoding: {JobStateDelivering, JobStateFailed},
	JobStateDelivering:  {JobStateDone, JobStateFailed},
}

// CanTransition reports whether next is reachable from s
func (s JobState) CanTransition(next JobState) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s is done or failed
func (s JobState) Terminal() bool {
	return s == JobStateDone || s == JobStateFailed
}
