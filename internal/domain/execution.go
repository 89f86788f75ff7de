package domain

// JobSpec is the input of a single-use execution job.
type JobSpec struct {
	OwnerID  string
	Language string
	Code     string
}

// JobHandle identifies a job accepted by the orchestrator.
type JobHandle string
