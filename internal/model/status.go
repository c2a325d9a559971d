package model

// Status is the processing state of an entry.
type Status string

const (
	// StatusPending means the entry is admitted but not yet processed
	StatusPending Status = "pending"

	// StatusCompressing means a compression job is running for the entry
	StatusCompressing Status = "compressing"

	// StatusDone means the job succeeded and compressed data is present
	StatusDone Status = "done"

	// StatusError means the job failed and an error message is present
	StatusError Status = "error"
)

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true for done and error
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// IsValid returns true if s is one of the four known states
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusCompressing, StatusDone, StatusError:
		return true
	}
	return false
}
